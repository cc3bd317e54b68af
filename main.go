package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/openclimatefix/solar-consumer/cmd"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	app := &cli.App{
		Name:   "solar-consumer",
		Usage:  "fetch solar generation and forecast data and save it to a configured sink",
		Action: cmd.ConsumeCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "country",
				EnvVars: []string{"COUNTRY"},
				Value:   "gb",
				Usage:   "data source country: gb, nl, de, be or ind_rajasthan",
			},
			&cli.StringFlag{
				Name:    "data-kind",
				EnvVars: []string{"HISTORIC_OR_FORECAST"},
				Value:   "generation",
				Usage:   "fetch generation actuals or forecasts",
			},
			&cli.StringFlag{
				Name:    "save-method",
				EnvVars: []string{"SAVE_METHOD"},
				Value:   "csv",
				Usage:   "sink to write to: db, csv or site-db",
			},
			&cli.StringFlag{
				Name:    "csv-dir",
				EnvVars: []string{"CSV_DIR"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "db-url",
				EnvVars: []string{"DB_URL"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "uk-pvlive-regime",
				EnvVars: []string{"UK_PVLIVE_REGIME"},
				Value:   "in-day",
				Usage:   "PVLive revision regime: in-day or day-after",
			},
			&cli.IntFlag{
				Name:    "uk-pvlive-n-gsps",
				EnvVars: []string{"UK_PVLIVE_N_GSPS"},
				Value:   10,
				Usage:   "number of grid supply points to fetch, 342 for all",
			},
			&cli.IntFlag{
				Name:    "uk-pvlive-backfill-hours",
				EnvVars: []string{"UK_PVLIVE_BACKFILL_HOURS"},
				Value:   2,
			},
			&cli.Float64Flag{
				Name:    "failure-threshold",
				EnvVars: []string{"FAILURE_THRESHOLD"},
				Value:   0.5,
				Usage:   "ratio of failed entities above which the run fails",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
