package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wolfeidau/qrtrack/internal/client"
	"github.com/wolfeidau/qrtrack/internal/models"
)

type Globals struct {
	Debug   bool
	Version string
}

// ClientFlags are shared by every command that talks to the server.
type ClientFlags struct {
	Server   string        `help:"Server URL" default:"http://localhost:8080" env:"QRTRACK_SERVER"`
	Token    string        `help:"Bearer token, see the token command" env:"QRTRACK_TOKEN"`
	Timeout  time.Duration `help:"Request timeout" default:"30s"`
	CacheDir string        `help:"Directory for cached responses, memory when empty" default:"" env:"QRTRACK_CACHE_DIR"`
}

func (f *ClientFlags) client() (*client.Client, error) {
	c, err := client.New(client.Config{
		ServerURL: f.Server,
		Token:     f.Token,
		Timeout:   f.Timeout,
		CacheDir:  f.CacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

func custodian(a *models.Asset) string {
	if a.CustodianID == nil {
		return "-"
	}
	return *a.CustodianID
}

func printAsset(w io.Writer, a *models.Asset) {
	fmt.Fprintf(w, "ID:         %s\n", a.ID)
	fmt.Fprintf(w, "Code:       %s\n", a.Code)
	fmt.Fprintf(w, "Status:     %s\n", a.Status)
	fmt.Fprintf(w, "Custodian:  %s\n", custodian(a))
	fmt.Fprintf(w, "Created At: %s\n", a.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Updated At: %s\n", a.UpdatedAt.Local().Format(time.DateTime))
}

func printAssets(w io.Writer, assets []*models.Asset) {
	if len(assets) == 0 {
		fmt.Fprintln(w, "No assets found.")
		return
	}

	fmt.Fprintf(w, "%-36s %-24s %-10s %-20s %-20s\n", "Asset ID", "Code", "Status", "Custodian", "Updated At")
	fmt.Fprintln(w, strings.Repeat("─", 114))
	for _, a := range assets {
		fmt.Fprintf(w, "%-36s %-24s %-10s %-20s %-20s\n",
			a.ID, truncate(a.Code, 24), a.Status, truncate(custodian(a), 20),
			a.UpdatedAt.Local().Format(time.DateTime))
	}
}

func printHistory(w io.Writer, history []*models.HistoryEntry) {
	if len(history) == 0 {
		fmt.Fprintln(w, "No history.")
		return
	}

	fmt.Fprintf(w, "%-20s %-10s %-10s %-24s %s\n", "Changed At", "From", "To", "Actor", "Notes")
	fmt.Fprintln(w, strings.Repeat("─", 100))
	for _, h := range history {
		actor := h.ActorID
		if h.ActorName != "" {
			actor = h.ActorName
		}
		notes := ""
		if h.Notes != nil {
			notes = *h.Notes
		}
		fmt.Fprintf(w, "%-20s %-10s %-10s %-24s %s\n",
			h.ChangedAt.Local().Format(time.DateTime), h.FromStatus, h.ToStatus, truncate(actor, 24), notes)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
