package main

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"niimbot-print/internal/config"
	"niimbot-print/internal/eventbus"
	"niimbot-print/internal/history"
	"niimbot-print/internal/imaging"
	"niimbot-print/internal/printer"
	"niimbot-print/internal/printjob"
	"niimbot-print/internal/protocol"
)

const statusTimeout = 10 * time.Second

type App struct {
	fyneApp fyne.App
	window  fyne.Window
	cfg     config.Config
	bus     *eventbus.Bus
	hist    *history.Store
	log     *zap.Logger

	session   *session
	unwatch   func()
	cancelJob context.CancelFunc

	sourceImg  image.Image
	rows       []string
	previewImg *canvas.Image

	// settings
	labelSize printjob.LabelSize
	density   int
	threshold uint8
	copies    int
	invert    bool

	// text mode
	textEntry  *widget.Entry
	alongFeed  bool
	fontSize   float64
	textInvert bool
	wordWrap   bool

	statusLabel    *widget.Label
	batteryLabel   *widget.Label
	progress       *widget.ProgressBar
	connectBtn     *widget.Button
	printBtn       *widget.Button
	cancelBtn      *widget.Button
	btDeviceSelect *widget.Select
	portSelect     *widget.Select
	refreshBTBtn   *widget.Button
	sizeSelect     *widget.Select

	btDevices []printer.BluetoothDevice
}

func newApp(a fyne.App, w fyne.Window, cfg config.Config, bus *eventbus.Bus, hist *history.Store, log *zap.Logger) *App {
	app := &App{
		fyneApp:   a,
		window:    w,
		cfg:       cfg,
		bus:       bus,
		hist:      hist,
		log:       log,
		density:   int(cfg.Job.Density),
		threshold: imaging.DefaultThreshold,
		copies:    1,
		fontSize:  14,
		alongFeed: true,
	}
	app.labelSize = app.defaultSize(cfg.Printer.Model)
	return app
}

func (a *App) defaultSize(model string) printjob.LabelSize {
	if s, ok := printjob.FindSize(model, a.cfg.Job.LabelSize); ok {
		return s
	}
	return printjob.SizesFor(model)[0]
}

func (a *App) buildMenu() *fyne.MainMenu {
	historyItem := fyne.NewMenuItem("Print History", a.showHistory)
	aboutItem := fyne.NewMenuItem("About", a.showAboutDialog)
	return fyne.NewMainMenu(
		fyne.NewMenu("Printer", historyItem),
		fyne.NewMenu("Help", aboutItem),
	)
}

func (a *App) showAboutDialog() {
	content := container.NewVBox(
		widget.NewLabelWithStyle(AppName, fyne.TextAlignCenter, fyne.TextStyle{Bold: true}),
		widget.NewLabel(fmt.Sprintf("Version %s", AppVersion)),
		widget.NewSeparator(),
		widget.NewLabel("Label printing for Niimbot D11, B21 and B1 printers."),
		widget.NewLabel("Protocol notes from the community:"),
		widget.NewHyperlink("kjy00302/niimprint", parseURL("https://github.com/kjy00302/niimprint")),
		widget.NewLabel("Built with Fyne and Go"),
	)
	dialog.ShowCustom("About", "Close", content, a.window)
}

func (a *App) showHistory() {
	if a.hist == nil {
		dialog.ShowInformation("Print History", "History is disabled in the configuration.", a.window)
		return
	}
	entries, err := a.hist.List(a.cfg.History.Limit)
	if err != nil {
		dialog.ShowError(err, a.window)
		return
	}
	list := widget.NewList(
		func() int { return len(entries) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			e := entries[i]
			line := fmt.Sprintf("%s  %s %s  %dx%d  %s", e.Started.Format("2006-01-02 15:04"), e.Model, e.Label, e.Width, e.Height, e.Result)
			if e.Error != "" {
				line += " (" + e.State + ")"
			}
			o.(*widget.Label).SetText(line)
		},
	)
	d := dialog.NewCustom("Print History", "Close", container.NewGridWrap(fyne.NewSize(520, 300), list), a.window)
	d.Show()
}

func parseURL(urlStr string) *url.URL {
	u, _ := url.Parse(urlStr)
	return u
}

func (a *App) cleanup() {
	if a.cancelJob != nil {
		a.cancelJob()
	}
	a.disconnect()
}

func (a *App) buildUI() fyne.CanvasObject {
	a.statusLabel = widget.NewLabel("Not connected")
	a.batteryLabel = widget.NewLabel("")
	a.progress = widget.NewProgressBar()
	a.progress.Hide()

	// bluetooth
	a.btDeviceSelect = widget.NewSelect([]string{}, func(string) {})
	a.refreshBTBtn = widget.NewButton("↻", func() { go a.refreshBluetoothDevices() })
	a.connectBtn = widget.NewButton("Connect", func() {
		a.toggleConnection(target{Kind: "bluetooth"})
	})
	go a.refreshBluetoothDevices()

	btRow := container.NewBorder(nil, nil, nil,
		container.NewHBox(a.refreshBTBtn, a.connectBtn),
		a.btDeviceSelect,
	)

	// manual port and simulator
	a.portSelect = widget.NewSelect([]string{}, func(string) {})
	a.refreshPorts()
	manualRow := container.NewBorder(nil, nil, nil,
		container.NewHBox(
			widget.NewButton("↻", a.refreshPorts),
			widget.NewButton("Connect Port", func() {
				a.toggleConnection(target{Kind: "serial", Port: a.portSelect.Selected})
			}),
		),
		a.portSelect,
	)
	simulatorBtn := widget.NewButton("Use Simulator", func() {
		a.toggleConnection(target{Kind: "simulator"})
	})
	advancedContent := container.NewVBox(
		widget.NewLabel("Serial port (already bound or USB):"),
		manualRow,
		simulatorBtn,
	)

	// print settings
	a.sizeSelect = widget.NewSelect(nil, func(name string) {
		if s, ok := printjob.FindSize(a.model(), name); ok {
			a.labelSize = s
			a.updatePreview()
		}
	})
	a.refreshSizes()

	densitySlider := widget.NewSlider(1, 5)
	densitySlider.Value = float64(a.density)
	densitySlider.OnChanged = func(f float64) { a.density = int(f) }

	copiesEntry := widget.NewEntry()
	copiesEntry.SetText("1")
	copiesEntry.OnChanged = func(s string) {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 999 {
			a.copies = n
		}
	}

	a.printBtn = widget.NewButton("Print", a.print)
	a.printBtn.Importance = widget.HighImportance
	a.printBtn.Disable()
	a.cancelBtn = widget.NewButton("Cancel", func() {
		if a.cancelJob != nil {
			a.cancelJob()
		}
	})
	a.cancelBtn.Hide()

	// image tab
	thresholdSlider := widget.NewSlider(0, 255)
	thresholdSlider.Value = float64(a.threshold)
	thresholdSlider.OnChanged = func(f float64) {
		a.threshold = uint8(f)
		a.updatePreview()
	}
	invertCheck := widget.NewCheck("Invert", func(b bool) {
		a.invert = b
		a.updatePreview()
	})
	imageTab := container.NewVBox(
		widget.NewButton("Load Image", a.loadImage),
		widget.NewForm(
			widget.NewFormItem("Threshold", thresholdSlider),
			widget.NewFormItem("", invertCheck),
		),
	)

	// text tab
	a.textEntry = widget.NewMultiLineEntry()
	a.textEntry.SetPlaceHolder("Enter label text...")
	a.textEntry.SetMinRowsVisible(3)
	a.textEntry.OnChanged = func(string) { a.updateTextPreview() }

	orientationSelect := widget.NewSelect([]string{"Along label", "Across label"}, func(s string) {
		a.alongFeed = s == "Along label"
		a.updateTextPreview()
	})
	orientationSelect.SetSelected("Along label")

	fontSizeSlider := widget.NewSlider(4, 48)
	fontSizeSlider.Value = a.fontSize
	fontSizeSlider.OnChanged = func(f float64) {
		a.fontSize = f
		a.updateTextPreview()
	}
	textInvertCheck := widget.NewCheck("Invert", func(b bool) {
		a.textInvert = b
		a.updateTextPreview()
	})
	wordWrapCheck := widget.NewCheck("Break on space only", func(b bool) {
		a.wordWrap = b
		a.updateTextPreview()
	})
	textTab := container.NewVBox(
		a.textEntry,
		widget.NewForm(
			widget.NewFormItem("Orientation", orientationSelect),
			widget.NewFormItem("Font Size", fontSizeSlider),
			widget.NewFormItem("", textInvertCheck),
			widget.NewFormItem("", wordWrapCheck),
		),
	)

	tabs := container.NewAppTabs(
		container.NewTabItem("Image", imageTab),
		container.NewTabItem("Text", textTab),
	)

	a.previewImg = canvas.NewImageFromImage(nil)
	a.previewImg.SetMinSize(fyne.NewSize(200, 300))
	a.previewImg.FillMode = canvas.ImageFillContain
	a.previewImg.ScaleMode = canvas.ImageScalePixels

	leftPanel := container.NewVBox(
		widget.NewLabel("Bluetooth Printer:"),
		btRow,
		widget.NewSeparator(),
		widget.NewAccordion(widget.NewAccordionItem("Advanced", advancedContent)),
		widget.NewSeparator(),
		widget.NewLabel("Label Size"),
		a.sizeSelect,
		widget.NewLabel("Density"),
		densitySlider,
		widget.NewLabel("Copies"),
		copiesEntry,
		widget.NewSeparator(),
		a.printBtn,
		a.cancelBtn,
		a.progress,
	)

	switch a.cfg.Device.Transport {
	case "simulator":
		a.toggleConnection(target{Kind: "simulator"})
	case "serial":
		if a.cfg.Device.Port != "" {
			a.toggleConnection(target{Kind: "serial", Port: a.cfg.Device.Port})
		}
	}

	rightPanel := container.NewBorder(tabs, nil, nil, nil, container.NewCenter(a.previewImg))
	content := container.NewHSplit(leftPanel, rightPanel)
	content.SetOffset(0.38)

	return container.NewBorder(
		nil,
		container.NewBorder(nil, nil, nil, a.batteryLabel, a.statusLabel),
		nil, nil,
		content,
	)
}

func (a *App) model() string {
	if a.session != nil {
		return a.session.model
	}
	return a.cfg.Printer.Model
}

func (a *App) refreshSizes() {
	sizes := printjob.SizesFor(a.model())
	names := make([]string, len(sizes))
	for i, s := range sizes {
		names[i] = s.Name
	}
	a.sizeSelect.Options = names
	if _, ok := printjob.FindSize(a.model(), a.labelSize.Name); !ok {
		a.labelSize = a.defaultSize(a.model())
	}
	a.sizeSelect.SetSelected(a.labelSize.Name)
}

func (a *App) refreshBluetoothDevices() {
	a.statusLabel.SetText("Scanning for paired devices...")

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	devices, err := printer.ListPairedDevices(ctx)
	if err != nil {
		a.statusLabel.SetText(fmt.Sprintf("Bluetooth scan failed: %v", err))
		return
	}
	a.btDevices = devices

	options := make([]string, len(devices))
	for i, d := range devices {
		options[i] = fmt.Sprintf("%s (%s)", d.Name, d.MAC)
	}
	a.btDeviceSelect.Options = options
	if len(options) > 0 {
		a.btDeviceSelect.SetSelected(options[printer.PickDevice(devices)])
	}
	a.statusLabel.SetText(fmt.Sprintf("Found %d paired device(s)", len(devices)))
}

func (a *App) refreshPorts() {
	ports := printer.FindRFCOMMDevices()
	if listed, err := printer.ListSerialPorts(); err == nil {
		for _, p := range listed {
			if !contains(ports, p) {
				ports = append(ports, p)
			}
		}
	}
	if a.cfg.Device.Port != "" && !contains(ports, a.cfg.Device.Port) {
		ports = append([]string{a.cfg.Device.Port}, ports...)
	}
	a.portSelect.Options = ports
	if len(ports) > 0 {
		a.portSelect.SetSelected(ports[0])
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (a *App) toggleConnection(t target) {
	if a.session != nil {
		a.disconnect()
		return
	}
	if t.Kind == "bluetooth" {
		i := a.btDeviceSelect.SelectedIndex()
		if i < 0 || i >= len(a.btDevices) {
			dialog.ShowError(fmt.Errorf("no Bluetooth device selected"), a.window)
			return
		}
		t.Device = a.btDevices[i]
	}

	a.connectBtn.Disable()
	a.btDeviceSelect.Disable()
	a.refreshBTBtn.Disable()

	go func() {
		a.statusLabel.SetText(fmt.Sprintf("Connecting to %s...", t))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		s, err := connect(ctx, a.cfg, t, a.bus, a.log)
		if err != nil {
			a.statusLabel.SetText(fmt.Sprintf("Connection failed: %v", err))
			a.connectBtn.Enable()
			a.btDeviceSelect.Enable()
			a.refreshBTBtn.Enable()
			dialog.ShowError(fmt.Errorf("failed to connect: %w", err), a.window)
			return
		}
		a.session = s
		a.unwatch = a.watch()
		a.connectBtn.SetText("Disconnect")
		a.connectBtn.Enable()
		a.refreshSizes()
		a.statusLabel.SetText(fmt.Sprintf("Connected to %s", t))

		st, err := s.status(ctx)
		if err != nil {
			a.log.Warn("status query failed", zap.Error(err))
		} else {
			a.statusLabel.SetText(fmt.Sprintf("Connected to %s: %s", t, st))
		}
		if a.rows != nil {
			a.printBtn.Enable()
		}
		a.refreshPorts()
	}()
}

// watch mirrors bus events into the status bar until the returned func
// is called
func (a *App) watch() func() {
	events, unsubscribe := a.bus.SubscribeAll()
	go func() {
		for v := range events {
			msg := v.(eventbus.Message)
			switch ev := msg.Payload.(type) {
			case protocol.Battery:
				a.batteryLabel.SetText(fmt.Sprintf("Battery %d/4", ev.Level))
			case protocol.NoPaper:
				a.statusLabel.SetText("No label roll installed")
			case printjob.Event:
				if ev.Err == nil {
					a.statusLabel.SetText("Printing: " + ev.State.String())
				}
			case error:
				if msg.Key == printer.KeyTransportError {
					a.statusLabel.SetText(fmt.Sprintf("Link error: %v", ev))
				}
			}
		}
	}()
	return unsubscribe
}

func (a *App) disconnect() {
	if a.unwatch != nil {
		a.unwatch()
		a.unwatch = nil
	}
	if a.session != nil {
		a.session.close()
		a.session = nil
	}
	a.connectBtn.SetText("Connect")
	a.connectBtn.Enable()
	a.btDeviceSelect.Enable()
	a.refreshBTBtn.Enable()
	a.statusLabel.SetText("Disconnected")
	a.batteryLabel.SetText("")
	a.printBtn.Disable()
}

func (a *App) loadImage() {
	fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		if reader == nil {
			return
		}
		defer reader.Close()

		img, _, err := image.Decode(reader)
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		a.sourceImg = img
		a.updatePreview()
	}, a.window)
	fd.SetFilter(storage.NewExtensionFileFilter([]string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp"}))
	fd.Show()
}

// updatePreview rasterizes the current source for the selected label
func (a *App) updatePreview() {
	if a.sourceImg == nil {
		return
	}
	rows := imaging.BitRows(
		imaging.Fit(a.sourceImg, a.labelSize.PixelW, a.labelSize.PixelH),
		a.threshold, a.invert,
	)
	a.setRows(rows)
}

func (a *App) updateTextPreview() {
	text := a.textEntry.Text
	if text == "" {
		return
	}
	opts := imaging.TextOptions{
		Width:    a.labelSize.PixelW,
		Height:   a.labelSize.PixelH,
		FontSize: a.fontSize,
		Invert:   a.textInvert,
		WordWrap: a.wordWrap,
	}
	if !a.alongFeed {
		a.sourceImg = imaging.RenderText(text, opts)
		a.updatePreview()
		return
	}

	opts.Width, opts.Height = a.labelSize.PixelH, a.labelSize.PixelW
	a.sourceImg = nil
	a.setRows(imaging.Rasterize(imaging.RenderText(text, opts), a.labelSize.PixelW, a.labelSize.PixelH, true, a.threshold))
}

func (a *App) setRows(rows []string) {
	a.rows = rows
	preview := imaging.Preview(rows)
	if a.alongFeed && a.sourceImg == nil {
		preview = imaging.RotateCCW(preview)
	}
	a.previewImg.Image = preview
	a.previewImg.Refresh()
	if a.session != nil {
		a.printBtn.Enable()
	}
}

func (a *App) print() {
	if a.session == nil {
		dialog.ShowError(fmt.Errorf("not connected to printer"), a.window)
		return
	}
	if len(a.rows) == 0 {
		dialog.ShowError(fmt.Errorf("nothing to print"), a.window)
		return
	}

	job := printjob.Job{
		Density:   uint8(a.density),
		LabelType: a.cfg.Job.LabelType,
		Quantity:  uint16(a.copies),
		Rows:      append([]string(nil), a.rows...),
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelJob = cancel

	a.printBtn.Disable()
	a.cancelBtn.Show()
	a.progress.SetValue(0)
	a.progress.Show()

	go func() {
		defer cancel()
		err := a.session.print(ctx, job, a.labelSize.Name, a.hist, func(s printjob.State, f float64) {
			if s == printjob.StreamRows {
				a.progress.SetValue(f)
			}
		})
		a.cancelBtn.Hide()
		a.progress.Hide()
		a.printBtn.Enable()
		if err != nil {
			a.statusLabel.SetText(fmt.Sprintf("Print error: %v", err))
			dialog.ShowError(err, a.window)
			return
		}
		a.statusLabel.SetText("Print complete")
	}()
}
