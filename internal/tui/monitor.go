// Package tui renders a live terminal dashboard of bridge counters, fed by
// the diag endpoint of a running bridge.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/webitel/im-bridge/internal/diag"
)

// Monitor polls a diag endpoint and renders its snapshots.
type Monitor struct {
	statsURL string
	interval time.Duration
	client   *http.Client
}

func NewMonitor(diagAddr string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		statsURL: fmt.Sprintf("http://%s/stats", diagAddr),
		interval: interval,
		client:   &http.Client{Timeout: 2 * time.Second},
	}
}

// Run blocks until the user quits with q or Ctrl-C.
func (m *Monitor) Run() error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("init terminal ui: %w", err)
	}
	defer ui.Close()

	header := widgets.NewParagraph()
	header.Title = "im-bridge"
	header.SetRect(0, 0, 80, 3)

	dispatchTable := widgets.NewTable()
	dispatchTable.Title = "Dispatch"
	dispatchTable.RowSeparator = false
	dispatchTable.SetRect(0, 3, 40, 12)

	subTable := widgets.NewTable()
	subTable.Title = "Subscriptions"
	subTable.RowSeparator = false
	subTable.SetRect(40, 3, 80, 12)

	m.render(header, dispatchTable, subTable)

	events := ui.PollEvents()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				ui.Clear()
				m.render(header, dispatchTable, subTable)
			}
		case <-ticker.C:
			m.render(header, dispatchTable, subTable)
		}
	}
}

func (m *Monitor) render(header *widgets.Paragraph, dispatchTable, subTable *widgets.Table) {
	snap, err := m.fetch()
	if err != nil {
		header.Text = fmt.Sprintf("unreachable: %v", err)
		ui.Render(header)
		return
	}

	header.Text = fmt.Sprintf("uptime %s    %s", snap.Uptime, m.statsURL)

	dispatchTable.Rows = [][]string{
		{"dispatches", fmt.Sprint(snap.Dispatch.Dispatches)},
		{"attempts", fmt.Sprint(snap.Dispatch.Attempts)},
		{"retries", fmt.Sprint(snap.Dispatch.Retries)},
	}
	for code, n := range snap.Dispatch.Failures {
		dispatchTable.Rows = append(dispatchTable.Rows, []string{code, fmt.Sprint(n)})
	}

	subTable.Rows = [][]string{
		{"active", fmt.Sprint(snap.Subscription.Active)},
		{"subscribes", fmt.Sprint(snap.Subscription.Subscribes)},
		{"deliveries", fmt.Sprint(snap.Subscription.Deliveries)},
		{"drops", fmt.Sprint(snap.Subscription.Drops)},
	}

	ui.Render(header, dispatchTable, subTable)
}

func (m *Monitor) fetch() (*diag.Snapshot, error) {
	res, err := m.client.Get(m.statsURL)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("diag returned %s", res.Status)
	}
	snap := new(diag.Snapshot)
	if err := json.NewDecoder(res.Body).Decode(snap); err != nil {
		return nil, err
	}
	return snap, nil
}
