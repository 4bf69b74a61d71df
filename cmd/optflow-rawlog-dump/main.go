package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"optflow-sim-go/internal/logging"
	"optflow-sim-go/internal/output"
)

var errLimit = errors.New("limit reached")

func main() {
	var (
		path  string
		limit int
		raw   bool
	)
	log := logging.Logger()

	root := &cobra.Command{
		Use:           "optflow-rawlog-dump",
		Short:         "Print the entries of a flow record log as JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open rawlog: %w", err)
			}
			defer f.Close()

			count := 0
			var total uint64
			err = output.ReadRawLog(f, func(e output.RawEntry) error {
				if limit > 0 && count >= limit {
					return errLimit
				}
				var value any
				if raw {
					var decoded any
					if err := cbor.Unmarshal(e.Payload, &decoded); err != nil {
						log.Warn().Err(err).Int("entry", count).Msg("CBOR decode error")
						count++
						return nil
					}
					value = output.NormalizeJSONValue(decoded)
				} else {
					entry, err := output.DecodeEntry(e.Payload)
					if err != nil {
						log.Warn().Err(err).Int("entry", count).Msg("entry decode error")
						count++
						return nil
					}
					value = entry
				}
				pretty, err := json.MarshalIndent(value, "", "  ")
				if err != nil {
					log.Warn().Err(err).Int("entry", count).Msg("JSON encode error")
					count++
					return nil
				}
				log.Info().Int("entry", count).Str("timestamp", e.Time.Format(time.RFC3339Nano)).
					Int("size", len(e.Payload)).Msg("record")
				fmt.Println(string(pretty))
				total += uint64(len(e.Payload))
				count++
				return nil
			})
			if err != nil && !errors.Is(err, errLimit) {
				return err
			}
			log.Info().Int("entries", count).Str("payload", humanize.Bytes(total)).Msg("done")
			return nil
		},
	}
	root.Flags().StringVar(&path, "path", "", "Path to record log .bin file")
	root.Flags().IntVar(&limit, "limit", 1, "Number of entries to dump (0 for all)")
	root.Flags().BoolVar(&raw, "raw", false, "Dump the generic CBOR structure instead of typed entries")
	_ = root.MarkFlagRequired("path")

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("optflow-rawlog-dump failed")
		os.Exit(1)
	}
}
