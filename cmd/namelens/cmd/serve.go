package cmd

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/abramin/namelens/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the namelens HTTP API",
	Long: `Start an HTTP server exposing lookups, version management and guild
defaults.

Routes:
- GET    /api/lookup/:type?name=&version=&guild=
- GET    /api/versions
- POST   /api/versions/:version/reload
- DELETE /api/versions/:version
- GET    /api/guilds
- GET|PUT|DELETE /api/guilds/:guild/default
- GET    /api/stats, /api/health, /metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		srv := server.New(server.Config{
			Port:     port,
			Service:  app.Service,
			Store:    app.Store,
			Registry: app.Registry,
		})
		return srv.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "port to run the server on")
}
