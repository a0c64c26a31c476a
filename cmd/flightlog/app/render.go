package app

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/raster"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
)

const (
	dpi            = 96.0
	fontSize       = 10.0
	tickMarkLength = 5
	pixelsPerLabel = 120.0

	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 70
	defaultBottomBorder = 60
	defaultRightBorder  = 30
)

// ErrNotEnoughData is returned for flights with fewer than two samples.
var ErrNotEnoughData = errors.New("not enough samples to draw a profile")

var (
	gridColor     = color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
	altitudeColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	pressureColor = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}
	launchColor   = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}
	ejectionColor = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
)

// BorderConfig defines the sizes of white space around the plot
type BorderConfig struct {
	Top    int // Space for the title
	Left   int // Space for the altitude scale
	Bottom int // Space for the time scale and the information bar
	Right  int // Right padding
}

// RenderConfig holds all configuration options for the profile image
type RenderConfig struct {
	Width, Height int            // Full image size
	Location      *time.Location // Timezone for the start time
	FontSize      float64        // Font size in points
	BorderConfig  BorderConfig
}

// ProfileRenderer draws the altitude profile of a flight: GPS and pressure
// altitude over time with launch and ejection markers.
type ProfileRenderer struct {
	config RenderConfig
}

func NewProfileRenderer(config RenderConfig) (*ProfileRenderer, error) {
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig == (BorderConfig{}) {
		config.BorderConfig = BorderConfig{
			Top:    defaultTopBorder,
			Left:   defaultLeftBorder,
			Bottom: defaultBottomBorder,
			Right:  defaultRightBorder,
		}
	}

	b := config.BorderConfig
	if config.Width <= b.Left+b.Right || config.Height <= b.Top+b.Bottom {
		return nil, fmt.Errorf("image size %dx%d leaves no room for the plot", config.Width, config.Height)
	}

	return &ProfileRenderer{config: config}, nil
}

// Render creates the profile image.
func (r *ProfileRenderer) Render(p *ProfileData) (*image.RGBA, error) {
	if len(p.Points) < 2 {
		return nil, ErrNotEnoughData
	}

	img := image.NewRGBA(image.Rect(0, 0, r.config.Width, r.config.Height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	b := r.config.BorderConfig
	area := image.Rect(b.Left, b.Top, r.config.Width-b.Right, r.config.Height-b.Bottom)
	sc := newScales(p, area)

	ann, err := newAnnotator(r.config.FontSize)
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	ann.context.SetClip(img.Bounds())
	ann.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func(*image.RGBA, *ProfileData, *scales) error
	}{
		{"drawing altitude scale", ann.drawAltitudeScale},
		{"drawing time scale", ann.drawTimeScale},
		{"drawing title", r.drawTitle(ann)},
		{"drawing info bar", ann.drawInfoBar},
	}
	for _, op := range ops {
		if err = op.fn(img, p, sc); err != nil {
			return nil, fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	drawFrame(img, area, color.Black)

	if p.Launch != nil {
		r.drawMarker(img, sc, *p.Launch, launchColor)
	}
	if p.Ejection != nil {
		r.drawMarker(img, sc, *p.Ejection, ejectionColor)
	}

	r.drawSeries(img, p, sc, func(pt ProfilePoint) float64 { return pt.PressureAltitude }, pressureColor)
	r.drawSeries(img, p, sc, func(pt ProfilePoint) float64 { return pt.Altitude }, altitudeColor)

	return img, nil
}

func (r *ProfileRenderer) drawTitle(ann *annotator) func(*image.RGBA, *ProfileData, *scales) error {
	return func(img *image.RGBA, p *ProfileData, sc *scales) error {
		f := p.Flight

		title := fmt.Sprintf("Flight %d, %s", f.ID, f.Source)
		if f.Description != nil && *f.Description != "" && *f.Description != f.Source {
			title += fmt.Sprintf(" (%s)", *f.Description)
		}
		title += ", started " + f.StartTime.In(r.config.Location).Format(time.DateTime)

		return ann.drawString(title, sc.area.Min.X, sc.area.Min.Y-ann.lineHeight()/2)
	}
}

// drawSeries strokes one altitude series as an anti-aliased polyline.
func (r *ProfileRenderer) drawSeries(img *image.RGBA, p *ProfileData, sc *scales, value func(ProfilePoint) float64, c color.Color) {
	var path raster.Path
	for i, pt := range p.Points {
		fp := toFixed(sc.x(pt.T), sc.y(value(pt)))
		if i == 0 {
			path.Start(fp)
			continue
		}
		path.Add1(fp)
	}

	rasterizer := raster.NewRasterizer(r.config.Width, r.config.Height)
	raster.Stroke(rasterizer, path, fixed.I(2), raster.RoundCapper, raster.RoundJoiner)

	painter := raster.NewRGBAPainter(img)
	painter.SetColor(c)
	rasterizer.Rasterize(painter)
}

func (r *ProfileRenderer) drawMarker(img *image.RGBA, sc *scales, t float64, c color.Color) {
	x := int(math.Round(sc.x(t)))
	for y := sc.area.Min.Y; y < sc.area.Max.Y; y++ {
		if (y/4)%2 == 0 {
			img.Set(x, y, c)
		}
	}
}

func drawFrame(img *image.RGBA, area image.Rectangle, c color.Color) {
	for x := area.Min.X; x <= area.Max.X; x++ {
		img.Set(x, area.Min.Y, c)
		img.Set(x, area.Max.Y, c)
	}
	for y := area.Min.Y; y <= area.Max.Y; y++ {
		img.Set(area.Min.X, y, c)
		img.Set(area.Max.X, y, c)
	}
}

func toFixed(x, y float64) fixed.Point26_6 {
	return fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)}
}

// scales map flight time and altitude to pixel coordinates of the plot area.
type scales struct {
	area                     image.Rectangle
	timeMin, timeMax         float64
	timeStep                 float64
	altitudeMin, altitudeMax float64
	altitudeStep             float64
}

func newScales(p *ProfileData, area image.Rectangle) *scales {
	timeSpan := p.TimeMax - p.TimeMin
	if timeSpan <= 0 {
		timeSpan = 1
	}

	altitudeMin, altitudeMax := p.AltitudeMin, p.AltitudeMax
	if altitudeMax-altitudeMin < 1 {
		altitudeMin--
		altitudeMax++
	}
	altitudeStep := niceStep(altitudeMax-altitudeMin, float64(area.Dy())/pixelsPerLabel*2)

	return &scales{
		area:         area,
		timeMin:      p.TimeMin,
		timeMax:      p.TimeMin + timeSpan,
		timeStep:     niceStep(timeSpan, float64(area.Dx())/pixelsPerLabel),
		altitudeMin:  math.Floor(altitudeMin/altitudeStep) * altitudeStep,
		altitudeMax:  math.Ceil(altitudeMax/altitudeStep) * altitudeStep,
		altitudeStep: altitudeStep,
	}
}

func (s *scales) x(t float64) float64 {
	return float64(s.area.Min.X) + (t-s.timeMin)/(s.timeMax-s.timeMin)*float64(s.area.Dx())
}

func (s *scales) y(altitude float64) float64 {
	return float64(s.area.Max.Y) - (altitude-s.altitudeMin)/(s.altitudeMax-s.altitudeMin)*float64(s.area.Dy())
}

// niceStep picks a 1, 2 or 5 times power of ten step that splits span into
// at most about target intervals.
func niceStep(span, target float64) float64 {
	if target < 1 {
		target = 1
	}
	raw := span / target
	magnitude := math.Pow(10, math.Floor(math.Log10(raw)))

	for _, m := range []float64{1, 2, 5, 10} {
		if m*magnitude >= raw {
			return m * magnitude
		}
	}
	return 10 * magnitude
}

type annotator struct {
	context  *freetype.Context
	fontFace font.Face
	size     float64
}

func newAnnotator(size float64) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(size)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		size:    size,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    size,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) lineHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) textWidth(s string) int {
	return font.MeasureString(a.fontFace, s).Round()
}

func (a *annotator) drawString(s string, x, y int) error {
	_, err := a.context.DrawString(s, freetype.Pt(x, y))
	return err
}

func (a *annotator) drawAltitudeScale(img *image.RGBA, _ *ProfileData, sc *scales) error {
	half := a.lineHeight() / 2

	for alt := sc.altitudeMin; alt <= sc.altitudeMax+sc.altitudeStep/2; alt += sc.altitudeStep {
		y := int(math.Round(sc.y(alt)))

		for x := sc.area.Min.X + 1; x < sc.area.Max.X; x++ {
			img.Set(x, y, gridColor)
		}
		for x := sc.area.Min.X - tickMarkLength; x < sc.area.Min.X; x++ {
			img.Set(x, y, color.Black)
		}

		label := fmt.Sprintf("%s m", formatNumber(alt))
		if err := a.drawString(label, sc.area.Min.X-tickMarkLength-3-a.textWidth(label), y+half-2); err != nil {
			return fmt.Errorf("drawing altitude label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, _ *ProfileData, sc *scales) error {
	first := math.Ceil(sc.timeMin/sc.timeStep) * sc.timeStep
	textY := sc.area.Max.Y + tickMarkLength + a.lineHeight()

	for t := first; t <= sc.timeMax+sc.timeStep/1000; t += sc.timeStep {
		x := int(math.Round(sc.x(t)))

		for y := sc.area.Min.Y + 1; y < sc.area.Max.Y; y++ {
			img.Set(x, y, gridColor)
		}
		for y := sc.area.Max.Y; y < sc.area.Max.Y+tickMarkLength; y++ {
			img.Set(x, y, color.Black)
		}

		label := fmt.Sprintf("%ss", formatNumber(t))
		if err := a.drawString(label, x-a.textWidth(label)/2, textY); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, p *ProfileData, sc *scales) error {
	parts := []string{
		fmt.Sprintf("Apogee %.1f m at %.1fs", p.Apogee.Altitude, p.Apogee.T),
		fmt.Sprintf("%s samples", humanize.Comma(int64(len(p.Points)))),
	}
	if p.Launch != nil {
		parts = append(parts, fmt.Sprintf("launch at %.1fs", *p.Launch))
	}
	if p.Ejection != nil {
		parts = append(parts, fmt.Sprintf("ejection (%s) at %.1fs", p.EjectionState, *p.Ejection))
	}

	textY := img.Bounds().Max.Y - a.lineHeight()/2
	if err := a.drawString(strings.Join(parts, "; "), sc.area.Min.X, textY); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}

	// legend, right aligned above the plot
	x := sc.area.Max.X
	for _, item := range []struct {
		label string
		c     color.Color
	}{
		{"pressure altitude", pressureColor},
		{"GPS altitude", altitudeColor},
	} {
		x -= a.textWidth(item.label)
		if err := a.drawString(item.label, x, sc.area.Min.Y-a.lineHeight()/2); err != nil {
			return fmt.Errorf("drawing legend: %w", err)
		}
		for dx := 0; dx < 16; dx++ {
			for dy := 0; dy < 2; dy++ {
				img.Set(x-20+dx, sc.area.Min.Y-a.lineHeight()/2-a.lineHeight()/3+dy, item.c)
			}
		}
		x -= 32
	}

	return nil
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) {
		return humanize.Comma(int64(v))
	}
	return humanize.CommafWithDigits(v, 1)
}
