package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/config"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/ack"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/destination"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/subscription"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/message"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/runtime"
	logpkg "github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

const simulateDestination = "simulate"

var errMemberBusy = errors.New("simulate: member buffer full")

// SimulateOptions configure one in-process run.
type SimulateOptions struct {
	Config   cfgpkg.Config
	Logger   logpkg.Logger
	Members  int
	Messages int
	Credit   int
	// Share names the shared group the members join. Empty gives every
	// member its own subscription.
	Share  string
	Filter string
	// RollbackEvery rolls back every Kth delivery of a member once.
	RollbackEvery int
	Persistent    bool
	Timeout       time.Duration
	// MetricsAddr, when set, serves the run's collectors while it lasts.
	MetricsAddr string
}

// MemberResult is what one simulated consumer saw.
type MemberResult struct {
	Member     string
	Delivered  int
	Acked      int
	RolledBack int
}

type SimulateResult struct {
	Published int
	Members   []MemberResult
	Elapsed   time.Duration
}

// Acked sums the acknowledgements of every member.
func (r SimulateResult) Acked() int {
	var n int
	for _, m := range r.Members {
		n += m.Acked
	}
	return n
}

type member struct {
	name  string
	ids   chan uint64
	sub   subscription.Subscription
	every int

	delivered  atomic.Int64
	acked      atomic.Int64
	rolledBack atomic.Int64
}

// SendMessage runs on the destination queue; a full buffer rolls the
// message back rather than blocking.
func (m *member) SendMessage(d subscription.Delivery) error {
	select {
	case m.ids <- d.Message.ID:
		return nil
	default:
		return errMemberBusy
	}
}

func (m *member) consume(ctx context.Context) {
	rolled := make(map[uint64]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.ids:
			n := m.delivered.Add(1)
			if m.every > 0 && n%int64(m.every) == 0 && !rolled[id] {
				rolled[id] = true
				m.rolledBack.Add(1)
				m.sub.RollbackReceived(id)
				continue
			}
			m.acked.Add(1)
			m.sub.AckReceived(id)
		}
	}
}

// Simulate publishes Messages to a queue consumed by Members consumers and
// waits until every stored message has been acknowledged.
func Simulate(ctx context.Context, opts SimulateOptions) (SimulateResult, error) {
	if opts.Members <= 0 || opts.Messages < 0 || opts.Credit <= 0 {
		return SimulateResult{}, fmt.Errorf("simulate: members and credit must be positive")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	rt, err := runtime.Open(ctx, runtime.Options{Config: opts.Config, Logger: opts.Logger})
	if err != nil {
		return SimulateResult{}, err
	}
	defer rt.Close(context.Background())

	if opts.MetricsAddr != "" {
		var wg sync.WaitGroup
		srv := serveMetrics(rt, opts.MetricsAddr, opts.Logger, &wg)
		defer func() {
			_ = srv.Close()
			wg.Wait()
		}()
	}

	// every run starts from an empty destination
	if _, ok := rt.Destinations().Get(simulateDestination); ok {
		if err := rt.Destinations().Remove(ctx, simulateDestination); err != nil {
			return SimulateResult{}, err
		}
	}
	d, err := rt.Destinations().Open(ctx, simulateDestination, destination.Queue)
	if err != nil {
		return SimulateResult{}, err
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	members := make([]*member, opts.Members)
	for i := range members {
		m := &member{name: fmt.Sprintf("member-%d", i), ids: make(chan uint64, opts.Credit), every: opts.RollbackEvery}
		m.sub, err = d.Subscribe(ctx, subscription.Context{
			Alias:          m.name,
			SessionID:      m.name,
			SharedName:     opts.Share,
			Filter:         opts.Filter,
			AckMode:        ack.Individual,
			ReceiveMaximum: opts.Credit,
			Persistent:     opts.Persistent,
		}, m)
		if err != nil {
			return SimulateResult{}, err
		}
		members[i] = m
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.consume(cctx)
		}()
	}

	start := time.Now()
	if err := publishBatch(ctx, d, opts.Messages); err != nil {
		return SimulateResult{}, err
	}
	waitErr := waitDrained(ctx, d, opts.Timeout)
	elapsed := time.Since(start)
	cancel()
	wg.Wait()

	res := SimulateResult{Published: opts.Messages, Elapsed: elapsed}
	for _, m := range members {
		res.Members = append(res.Members, MemberResult{
			Member:     m.name,
			Delivered:  int(m.delivered.Load()),
			Acked:      int(m.acked.Load()),
			RolledBack: int(m.rolledBack.Load()),
		})
	}
	opts.Logger.Info("simulation finished",
		logpkg.Int("published", res.Published),
		logpkg.Int("acked", res.Acked()),
		logpkg.Duration("elapsed", elapsed),
	)
	return res, waitErr
}

func publishBatch(ctx context.Context, d *destination.Destination, n int) error {
	const batch = 256
	for i := 0; i < n; i += batch {
		end := min(i+batch, n)
		msgs := make([]*message.Message, 0, end-i)
		for seq := i; seq < end; seq++ {
			parity := "even"
			if seq%2 == 1 {
				parity = "odd"
			}
			msgs = append(msgs, &message.Message{
				Priority:   message.DefaultPriority,
				Properties: map[string]any{"seq": int64(seq), "parity": parity},
				Payload:    []byte(fmt.Sprintf(`{"seq":%d}`, seq)),
			})
		}
		if _, err := d.Publish(ctx, msgs...); err != nil {
			return err
		}
	}
	return nil
}

// waitDrained polls until the destination stores nothing.
func waitDrained(ctx context.Context, d *destination.Destination, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		st, err := d.Stats(ctx)
		if err != nil {
			return err
		}
		if st.Stored == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("simulate: %d messages still stored after %s", st.Stored, timeout)
		case <-tick.C:
		}
	}
}

func printResult(w io.Writer, res SimulateResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MEMBER\tDELIVERED\tACKED\tROLLED BACK")
	var delivered, rolled int
	for _, m := range res.Members {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", m.Member, m.Delivered, m.Acked, m.RolledBack)
		delivered += m.Delivered
		rolled += m.RolledBack
	}
	fmt.Fprintf(tw, "total\t%d\t%d\t%d\n", delivered, res.Acked(), rolled)
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "published %d in %s\n", res.Published, res.Elapsed.Round(time.Millisecond))
	return err
}

// NewSimulateCommand constructs the `simulate` command.
func NewSimulateCommand() *cobra.Command {
	simCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the delivery engine in-process against simulated consumers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			membersN, _ := cmd.Flags().GetInt("members")
			messagesN, _ := cmd.Flags().GetInt("messages")
			credit, _ := cmd.Flags().GetInt("credit")
			share, _ := cmd.Flags().GetString("share")
			filter, _ := cmd.Flags().GetString("filter")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			rollbackEvery, _ := cmd.Flags().GetInt("rollback-every")
			persistent, _ := cmd.Flags().GetBool("persistent")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			cfg.Store.DataDir = ""
			if dataDir != "" {
				cfg.Store.DataDir = filepath.Join(dataDir, "store")
			}
			res, err := Simulate(cmd.Context(), SimulateOptions{
				Config:        cfg,
				Logger:        newLogger(cfg),
				Members:       membersN,
				Messages:      messagesN,
				Credit:        credit,
				Share:         share,
				Filter:        filter,
				RollbackEvery: rollbackEvery,
				Persistent:    persistent,
				Timeout:       timeout,
				MetricsAddr:   metricsAddr,
			})
			if perr := printResult(cmd.OutOrStdout(), res); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	simCmd.Flags().String("config", "", "Config file (.json, .yaml or .yml)")
	simCmd.Flags().String("log-level", "warn", "Log level: debug|info|warn|error")
	simCmd.Flags().Int("members", 3, "Number of consumers")
	simCmd.Flags().Int("messages", 1000, "Messages to publish")
	simCmd.Flags().Int("credit", 10, "Receive maximum of each consumer")
	simCmd.Flags().String("share", "workers", "Shared group name (empty gives each member its own subscription)")
	simCmd.Flags().String("filter", "", "Selector applied by every member, e.g. \"parity = 'even'\"")
	simCmd.Flags().String("data-dir", "", "Persist to this directory (in memory when empty)")
	simCmd.Flags().Int("rollback-every", 0, "Roll back every Kth delivery of a member once (0 disables)")
	simCmd.Flags().Bool("persistent", false, "Use persistent subscriptions")
	simCmd.Flags().Duration("timeout", 30*time.Second, "Give up when messages are still stored after this long")
	simCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	return simCmd
}
