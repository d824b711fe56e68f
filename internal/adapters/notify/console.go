package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alexgmz/dueld/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implements ports.Notifier, writing event lines to stdout.
type Console struct {
	out io.Writer
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// PositionUpdated prints one line per oracle report.
func (c *Console) PositionUpdated(_ context.Context, ev domain.PositionUpdate) error {
	fmt.Fprintf(c.out, "[%s] positions %s creator=%d opponent=%d\n",
		ev.Timestamp.Format("15:04:05"), shortID(ev.DuelID), ev.CreatorValue, ev.OpponentValue)
	return nil
}

// DuelSettled prints the settlement outcome and money split.
func (c *Console) DuelSettled(_ context.Context, ev domain.DuelSettled) error {
	fmt.Fprintf(c.out, "[%s] settled %s winner=%s pnl=%+dbps/%+dbps payout=%d fee=%d\n",
		time.Now().Format("15:04:05"), shortID(ev.DuelID), ev.Winner,
		ev.CreatorPnLBps, ev.OpponentPnLBps, ev.WinnerPayout, ev.ProtocolFee)
	return nil
}

// PrintDuels renders the duel listing used by the CLI list mode.
func (c *Console) PrintDuels(duels []domain.Duel) {
	if len(duels) == 0 {
		fmt.Fprintln(c.out, "no duels")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Status", "Creator", "Opponent", "Stake", "Window", "Winner")

	for _, d := range duels {
		window := "-"
		if !d.StartTime.IsZero() {
			window = fmt.Sprintf("%s → %s",
				d.StartTime.Format("01-02 15:04"), d.EndTime.Format("01-02 15:04"))
		}
		opponent := d.Opponent
		if opponent == "" {
			opponent = "-"
		}
		winner := "-"
		if d.Winner != domain.WinnerNone {
			winner = string(d.Winner)
		}

		table.Append(
			shortID(d.ID),
			string(d.Status),
			d.Creator,
			opponent,
			fmt.Sprintf("%d", d.StakeAmount),
			window,
			winner,
		)
	}

	table.Render()
}

// PrintProtocol renders the registry summary line.
func (c *Console) PrintProtocol(p *domain.Protocol) {
	fmt.Fprintf(c.out, "protocol: fee=%dbps treasury=%s oracle=%s duels=%d volume=%d\n",
		p.FeeBps, p.Treasury, p.Oracle, p.TotalDuels, p.TotalVolume)
}

// shortID trims uuids down to the first block for one-line output.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
