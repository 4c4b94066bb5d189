package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.klb.dev/clipsync/internal/control"
	"go.klb.dev/clipsync/internal/engine"
	"go.klb.dev/clipsync/internal/ipc"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's link",
		Long: `Asks the clipsync daemon on this machine, over its control socket, who it
is connected to and what it has sent and received.

With --watch, prints a line every time the link goes up or down until
interrupted.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runStatus(cmd, v) },
	}

	f := cmd.Flags()
	f.Bool("json", false, "output raw JSON")
	f.Bool("watch", false, "follow link health until interrupted")
	f.String("control-socket", "", "control socket path (default: platform IPC path)")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(cmd *cobra.Command, v *viper.Viper) error {
	path := v.GetString("control-socket")
	if path == "" {
		path = ipc.SocketPath()
	}
	if !ipc.IsRunning(path) {
		return fmt.Errorf("no clipsync daemon on %s", path)
	}

	c, err := control.Dial(path)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	if v.GetBool("watch") {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return c.WatchHealth(ctx, func(s healthpb.HealthCheckResponse_ServingStatus) {
			fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05"), healthWord(s))
		})
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}

	if v.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printStatus(out, st, path)
	return nil
}

func healthWord(s healthpb.HealthCheckResponse_ServingStatus) string {
	if s == healthpb.HealthCheckResponse_SERVING {
		return "connected"
	}
	return "not connected"
}

func printStatus(out io.Writer, st engine.Status, path string) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Socket:\t%s\n", path)
	fmt.Fprintf(w, "Role:\t%s\n", st.Link.Role)
	fmt.Fprintf(w, "Address:\t%s\n", st.Link.Addr)
	fmt.Fprintf(w, "Clipboard:\t%s\n", st.Clipboard)
	fmt.Fprintf(w, "State:\t%s\n", st.Link.State)
	if st.Link.Peer != "" {
		fmt.Fprintf(w, "Peer:\t%s\n", st.Link.Peer)
	}
	if !st.Link.ConnectedAt.IsZero() {
		fmt.Fprintf(w, "Connected:\t%s (%s ago)\n", st.Link.ConnectedAt.UTC().Format(time.RFC3339), fmtAge(st.Link.ConnectedAt))
	}
	fmt.Fprintf(w, "Connections:\t%d\n", st.Link.Connections)
	if st.Link.LastError != "" {
		fmt.Fprintf(w, "Last error:\t%s\n", st.Link.LastError)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Sent:\t%d\t%s\n", st.Stats.Sent, lastAt(st.Stats.LastSent))
	fmt.Fprintf(w, "Received:\t%d\t%s\n", st.Stats.Received, lastAt(st.Stats.LastReceived))
	fmt.Fprintf(w, "Applied:\t%d\n", st.Stats.Applied)
	fmt.Fprintf(w, "Dropped:\t%d\n", st.Stats.Dropped)
	fmt.Fprintf(w, "Malformed:\t%d\n", st.Stats.Malformed)
	_ = w.Flush()
}

func lastAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return "last " + fmtAge(t) + " ago"
}

func fmtAge(t time.Time) string {
	d := time.Since(t).Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
