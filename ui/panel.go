package ui

import (
	"strconv"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"alertcore/display"
)

const (
	uiBorderColor = tcell.ColorGray
	uiTitleColor  = tcell.ColorHotPink
	uiLabelColor  = tcell.ColorGray
	uiDimColor    = tcell.ColorDarkGray

	signalBars = 8
	labelWidth = 7
)

var bandColors = map[string]tcell.Color{
	"KA":    tcell.ColorRed,
	"K":     tcell.ColorYellow,
	"X":     tcell.ColorGreen,
	"KU":    tcell.ColorAqua,
	"LASER": tcell.ColorFuchsia,
}

// ElementPanel draws the resolved display elements. It holds only the last
// value per element; the arbiter decides what those values are.
type ElementPanel struct {
	*tview.Box

	mu     sync.RWMutex
	values map[display.ElementKind]string
}

type panelRow struct {
	label string
	text  string
	color tcell.Color
}

func NewElementPanel(title string) *ElementPanel {
	box := tview.NewBox().SetBorder(true)
	if title != "" {
		box.SetTitle(" " + title + " ").SetTitleAlign(tview.AlignLeft)
	}
	box.SetBorderColor(uiBorderColor)
	box.SetTitleColor(uiTitleColor)
	return &ElementPanel{
		Box:    box,
		values: make(map[display.ElementKind]string),
	}
}

// Apply stores the changed values. Safe from any goroutine.
func (p *ElementPanel) Apply(changes []display.Change) {
	p.mu.Lock()
	for _, c := range changes {
		if c.Value == "" {
			delete(p.values, c.Kind)
			continue
		}
		p.values[c.Kind] = c.Value
	}
	p.mu.Unlock()
}

func (p *ElementPanel) Value(kind display.ElementKind) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values[kind]
}

func (p *ElementPanel) rows() []panelRow {
	p.mu.RLock()
	defer p.mu.RUnlock()

	band := p.values[display.ElementBand]
	bandColor, ok := bandColors[band]
	if !ok {
		bandColor = uiDimColor
	}
	head := band
	if freq := p.values[display.ElementFrequency]; freq != "" {
		head += "  " + freq + " GHz"
	}
	if head == "" {
		head = "--"
	}

	rows := []panelRow{
		{label: "BAND", text: head, color: bandColor},
		{label: "SIGNAL", text: barGlyphs(p.values[display.ElementSignal]), color: bandColor},
		{label: "DIR", text: arrowGlyphs(p.values[display.ElementDirection]), color: tcell.ColorWhite},
		{label: "ALERTS", text: orDash(p.values[display.ElementAlertCount]), color: tcell.ColorWhite},
	}
	if mute := p.values[display.ElementMute]; mute != "" {
		rows = append(rows, panelRow{label: "MUTE", text: mute, color: tcell.ColorOrange})
	} else {
		rows = append(rows, panelRow{label: "MUTE", text: "-", color: uiDimColor})
	}
	rows = append(rows,
		panelRow{label: "LEARN", text: orDash(p.values[display.ElementLearn]), color: tcell.ColorLightSkyBlue},
		panelRow{label: "LINK", text: orDash(p.values[display.ElementLink]), color: linkColor(p.values[display.ElementLink])},
	)
	return rows
}

func (p *ElementPanel) Draw(screen tcell.Screen) {
	p.Box.DrawForSubclass(screen, p)
	x, y, width, height := p.GetInnerRect()
	labelStyle := tcell.StyleDefault.Foreground(uiLabelColor)
	for i, row := range p.rows() {
		if i >= height {
			break
		}
		putString(screen, x, y+i, width, row.label, labelStyle)
		if width > labelWidth {
			putString(screen, x+labelWidth, y+i, width-labelWidth, row.text, tcell.StyleDefault.Foreground(row.color))
		}
	}
}

func putString(screen tcell.Screen, x, y, width int, text string, style tcell.Style) {
	col := 0
	for _, r := range text {
		if col >= width {
			return
		}
		screen.SetContent(x+col, y, r, nil, style)
		col++
	}
}

func barGlyphs(value string) string {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return "-"
	}
	if n > signalBars {
		n = signalBars
	}
	return strings.Repeat("▮", n) + strings.Repeat("▯", signalBars-n)
}

func arrowGlyphs(value string) string {
	if value == "" || value == "-" {
		return "-"
	}
	var parts []string
	if strings.Contains(value, "F") {
		parts = append(parts, "▲")
	}
	if strings.Contains(value, "S") {
		parts = append(parts, "◀▶")
	}
	if strings.Contains(value, "R") {
		parts = append(parts, "▼")
	}
	if len(parts) == 0 {
		return value
	}
	return strings.Join(parts, " ")
}

func linkColor(state string) tcell.Color {
	switch state {
	case "connected":
		return tcell.ColorGreen
	case "":
		return uiDimColor
	default:
		return tcell.ColorRed
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
