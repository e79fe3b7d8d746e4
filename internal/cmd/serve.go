package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ccdesk/ccdesk/internal/logging"
	"github.com/ccdesk/ccdesk/internal/web"
)

var (
	serveAddr    string
	serveOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and websocket",
	Long: `Serve the selected project over HTTP.

  GET    /api/history            conversation snapshot
  DELETE /api/history            erase the project's history
  POST   /api/prompt             {"prompt": "..."}
  POST   /api/stop
  POST   /api/retry/{turnID}
  POST   /api/permissions/{id}   {"approve": true}
  POST   /api/project            {"dir": "..."}
  GET    /ws                     event stream and command socket`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from settings, 127.0.0.1:5757)")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "allow-origin", nil, "Extra websocket origins to accept besides same-origin")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(settings, settingsPath, projectDir)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := serveAddr
	if addr == "" {
		addr = settings.Web.Addr()
	}
	srv := web.New(web.Config{
		Controller:     a.ctrl,
		Addr:           addr,
		AllowedOrigins: serveOrigins,
	})
	defer srv.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.Printf("Serving %s on http://%s\n", a.ctrl.Project(), addr)
	err = srv.ListenAndServe(ctx)
	logging.Shutdown().Info("server stopped")
	return err
}
