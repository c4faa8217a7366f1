package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/family-history/internal/domain"
	"github.com/family-history/internal/ranking"
	"github.com/family-history/pkg/client"
)

const usage = `usage: famctl [-server URL] [-session FILE] <command> [flags]

commands:
  login -u USER -p PASS
  logout
  whoami
  latest    -family F [-q TEXT] [-class ID] [-limit N]
  watch     -family F [-q TEXT] [-class ID] [-limit N] [-every DURATION]
  snapshots -family F
  history   -family F [-from DATE] [-to DATE] [-q TEXT] [-class ID]
  player    -family F -nickname N [-from DATE] [-to DATE]
  rename    -family F -id PLAYER_ID -nickname N
  import    -family F -gmbr FILE [-gexp FILE] [-date DATE]
`

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".famctl-session.yaml"
	}
	return filepath.Join(dir, "famctl", "session.yaml")
}

func main() {
	server := flag.String("server", envOr("FAMCTL_SERVER", "http://localhost:8080"), "API base URL")
	sessionPath := flag.String("session", envOr("FAMCTL_SESSION", defaultSessionPath()), "Session file")
	asJSON := flag.Bool("json", false, "Print raw JSON")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	session, err := client.LoadSession(*sessionPath)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := &cli{
		api:    client.New(*server, session),
		out:    os.Stdout,
		asJSON: *asJSON,
	}
	if err := cli.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fatal(err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(err error) {
	if errors.Is(err, domain.ErrUnauthorized) {
		fmt.Fprintln(os.Stderr, "famctl: not logged in or session expired, run famctl login")
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "famctl:", err)
	os.Exit(1)
}

type cli struct {
	api    *client.Client
	out    io.Writer
	asJSON bool
}

func (c *cli) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return c.login(ctx, args)
	case "logout":
		return c.api.Logout(ctx)
	case "whoami":
		user, err := c.api.Me(ctx)
		if err != nil {
			return err
		}
		return c.print(user, func(w io.Writer) { fmt.Fprintf(w, "%s (%s)\n", user.Username, user.Role) })
	case "latest":
		return c.latest(ctx, args)
	case "watch":
		return c.watch(ctx, args)
	case "snapshots":
		return c.snapshots(ctx, args)
	case "history":
		return c.history(ctx, args)
	case "player":
		return c.player(ctx, args)
	case "rename":
		return c.rename(ctx, args)
	case "import":
		return c.importSnapshot(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// print writes v as JSON with -json, otherwise calls text
func (c *cli) print(v any, text func(w io.Writer)) error {
	if c.asJSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	username := fs.String("u", "", "Username")
	password := fs.String("p", os.Getenv("FAMCTL_PASSWORD"), "Password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resp, err := c.api.Login(ctx, *username, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "logged in as %s (%s)\n", resp.Username, resp.Role)
	return nil
}

// familyFlags holds the flags shared by read commands
type familyFlags struct {
	family string
	query  string
	class  string
	from   string
	to     string
}

func (f *familyFlags) register(fs *flag.FlagSet, window bool) {
	fs.StringVar(&f.family, "family", "", "Family name")
	fs.StringVar(&f.query, "q", "", "Nickname filter")
	fs.StringVar(&f.class, "class", "", "Class id filter")
	if window {
		fs.StringVar(&f.from, "from", "", "Window start YYYY-MM-DD")
		fs.StringVar(&f.to, "to", "", "Window end YYYY-MM-DD")
	}
}

func (f *familyFlags) criteria() ranking.Criteria {
	return ranking.Criteria{Query: f.query, ClassID: f.class}
}

func (f *familyFlags) window() (domain.Date, domain.Date, error) {
	from, err := optionalDate(f.from)
	if err != nil {
		return domain.Date{}, domain.Date{}, err
	}
	to, err := optionalDate(f.to)
	if err != nil {
		return domain.Date{}, domain.Date{}, err
	}
	return from, to, nil
}

func (f *familyFlags) validate() error {
	if f.family == "" {
		return errors.New("-family is required")
	}
	return nil
}

func optionalDate(s string) (domain.Date, error) {
	if s == "" {
		return domain.Date{}, nil
	}
	return domain.ParseDate(s)
}

func formatDelta(d *int64) string {
	if d == nil {
		return "-"
	}
	return fmt.Sprintf("%+d", *d)
}

func (c *cli) latest(ctx context.Context, args []string) error {
	var f familyFlags
	fs := flag.NewFlagSet("latest", flag.ContinueOnError)
	f.register(fs, false)
	limit := fs.Int("limit", 0, "Maximum rows")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate(); err != nil {
		return err
	}

	rows, err := c.api.Latest(ctx, f.family, f.criteria(), *limit)
	if err != nil {
		return err
	}
	return c.printRows(rows)
}

func (c *cli) printRows(rows []domain.LatestRow) error {
	return c.print(rows, func(w io.Writer) {
		fmt.Fprintln(w, "RANK\tNICKNAME\tCLASS\tLEVEL\tPOINTS")
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n", r.Rank, r.Nickname, ranking.ClassName(r.ClassID), r.Level, r.Points)
		}
	})
}

// watch refreshes the latest leaderboard on a ticker. A refresh that is still
// running when a newer one completes is dropped instead of overwriting it.
func (c *cli) watch(ctx context.Context, args []string) error {
	var f familyFlags
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	f.register(fs, false)
	limit := fs.Int("limit", 20, "Maximum rows")
	every := fs.Duration("every", 10*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate(); err != nil {
		return err
	}
	if *every <= 0 {
		return errors.New("-every must be positive")
	}

	var (
		view  client.View[[]domain.LatestRow]
		seq   client.Sequencer
		outMu sync.Mutex
		wg    sync.WaitGroup
	)

	refresh := func() {
		defer wg.Done()
		err := view.LoadSeq(&seq, func() ([]domain.LatestRow, error) {
			return c.api.Latest(ctx, f.family, f.criteria(), *limit)
		})
		if errors.Is(err, client.ErrSuperseded) || ctx.Err() != nil {
			return
		}

		state := view.State()
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(c.out, "\n[%s] %s\n", time.Now().Format("15:04:05"), f.family)
		if state.Err != nil {
			fmt.Fprintln(c.out, "refresh failed:", state.Err)
			return
		}
		_ = c.printRows(state.Data)
	}

	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	wg.Add(1)
	go refresh()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			wg.Add(1)
			go refresh()
		}
	}
}

func (c *cli) snapshots(ctx context.Context, args []string) error {
	var f familyFlags
	fs := flag.NewFlagSet("snapshots", flag.ContinueOnError)
	f.register(fs, false)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate(); err != nil {
		return err
	}

	dates, err := c.api.Snapshots(ctx, f.family)
	if err != nil {
		return err
	}
	return c.print(dates, func(w io.Writer) {
		for _, d := range dates {
			fmt.Fprintln(w, d)
		}
	})
}

func (c *cli) history(ctx context.Context, args []string) error {
	var f familyFlags
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	f.register(fs, true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate(); err != nil {
		return err
	}
	from, to, err := f.window()
	if err != nil {
		return err
	}

	table, err := c.api.History(ctx, f.family, client.HistoryQuery{From: from, To: to, Criteria: f.criteria()})
	if err != nil {
		return err
	}
	return c.print(table, func(w io.Writer) {
		fmt.Fprintln(w, "NICKNAME\tLAST\tPERIOD\tWEEKLY\tMONTHLY")
		for _, p := range table.Players {
			last := "-"
			if p.FinalValue != nil {
				last = strconv.FormatInt(*p.FinalValue, 10)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Nickname, last,
				formatDelta(p.PeriodDiff), formatDelta(p.WeeklyDiff), formatDelta(p.MonthlyDiff))
		}
	})
}

func (c *cli) player(ctx context.Context, args []string) error {
	var f familyFlags
	fs := flag.NewFlagSet("player", flag.ContinueOnError)
	f.register(fs, true)
	nickname := fs.String("nickname", "", "Player nickname")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate(); err != nil {
		return err
	}
	from, to, err := f.window()
	if err != nil {
		return err
	}

	player, err := c.api.Player(ctx, f.family, *nickname, from, to)
	if err != nil {
		return err
	}
	return c.print(player, func(w io.Writer) {
		fmt.Fprintf(w, "%s\tlevel %d\t%s\n", player.Player.Nickname, player.Player.Level, ranking.ClassName(player.Player.ClassID))
		if player.Rank != nil {
			fmt.Fprintf(w, "rank\t%d\n", *player.Rank)
		}
		fmt.Fprintf(w, "weekly\t%s\n", formatDelta(player.Stats.WeeklyDiff))
		fmt.Fprintf(w, "monthly\t%s\n", formatDelta(player.Stats.MonthlyDiff))
		fmt.Fprintln(w, "DATE\tPOINTS\tDELTA")
		for _, d := range player.Deltas {
			fmt.Fprintf(w, "%s\t%d\t%s\n", d.Date, d.Value, formatDelta(d.Delta))
		}
	})
}

func (c *cli) rename(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rename", flag.ContinueOnError)
	family := fs.String("family", "", "Family name")
	playerID := fs.Int64("id", 0, "Player id")
	nickname := fs.String("nickname", "", "New nickname")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !c.api.Session().IsAdmin() {
		return domain.ErrForbidden
	}

	member, err := c.api.Rename(ctx, *family, *playerID, *nickname)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "player %d is now %s\n", member.PlayerID, member.Nickname)
	return nil
}

func (c *cli) importSnapshot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	family := fs.String("family", "", "Family name")
	gmbrPath := fs.String("gmbr", "", "Path to the gmbr export")
	gexpPath := fs.String("gexp", "", "Path to the gexp export")
	date := fs.String("date", "", "Snapshot date YYYY-MM-DD (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !c.api.Session().IsAdmin() {
		return domain.ErrForbidden
	}
	snapshotDate, err := optionalDate(*date)
	if err != nil {
		return err
	}

	gmbr, err := os.Open(*gmbrPath)
	if err != nil {
		return fmt.Errorf("opening gmbr export: %w", err)
	}
	defer gmbr.Close()

	var gexp io.Reader
	if *gexpPath != "" {
		f, err := os.Open(*gexpPath)
		if err != nil {
			return fmt.Errorf("opening gexp export: %w", err)
		}
		defer f.Close()
		gexp = f
	}

	result, err := c.api.Import(ctx, *family, snapshotDate, gmbr, gexp)
	if err != nil {
		return err
	}
	return c.print(result, func(w io.Writer) {
		fmt.Fprintf(w, "imported %s %s\tmembers %d\tpoints %d\tskipped %d\n",
			result.Family, result.SnapshotDate, result.Members, result.Points, result.Skipped)
	})
}
