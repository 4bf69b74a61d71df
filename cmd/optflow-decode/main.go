package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"optflow-sim-go/internal/flow"
	"optflow-sim-go/internal/frame"
	"optflow-sim-go/internal/ingest"
	"optflow-sim-go/internal/logging"
	"optflow-sim-go/internal/simulator"
	"optflow-sim-go/internal/types"
)

func main() {
	log := logging.Logger()
	root := &cobra.Command{
		Use:           "optflow-decode",
		Short:         "Inspect and generate CBOR frame messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(summarizeCmd(), generateCmd())
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("optflow-decode failed")
		os.Exit(1)
	}
}

func summarizeCmd() *cobra.Command {
	var (
		path   string
		limit  int
		hfov   float64
		flowOn bool
	)
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Print a summary of each message, optionally running flow over the images",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := listFiles(path)
			if err != nil {
				return fmt.Errorf("list files: %w", err)
			}
			log := logging.Logger()
			pipelines := map[string]*flow.Pipeline{}
			counts := map[string]int{}
			shown := 0

			for _, file := range files {
				data, err := os.ReadFile(file)
				if err != nil {
					log.Warn().Err(err).Str("file", file).Msg("read failed")
					continue
				}
				msg, err := ingest.Decode(data)
				if err != nil {
					log.Warn().Err(err).Str("file", file).Msg("decode failed")
					continue
				}
				counts[msg.Type]++
				if msg.Type != types.MessageImage {
					continue
				}

				img := msg.Image
				if shown < limit {
					fmt.Printf("image: %s\n", file)
					fmt.Printf("  camera: %s image_id: %d rate: %.2f\n", img.Camera, img.ImageID, img.Rate)
					fmt.Printf("  dims %dx%d depth %d format %s\n", img.Width, img.Height, img.Depth, img.Format)
					shown++
				}
				if !flowOn {
					continue
				}
				p, ok := pipelines[img.Camera]
				if !ok {
					p = flow.New(flow.Config{
						Camera:      img.Camera,
						SensorID:    0,
						Shape:       frame.Shape{Width: img.Width, Height: img.Height, Depth: img.Depth, Format: img.Format},
						HFOV:        hfov,
						NominalRate: img.Rate,
					}, flow.WithLogger(log))
					pipelines[img.Camera] = p
				}
				if est, ok := p.ProcessFrame(img); ok {
					fmt.Printf("  flow %s #%d: px=(%.2f, %.2f) rad=(%.5f, %.5f) quality=%d dt=%dus\n",
						img.Camera, img.ImageID, est.PixelX, est.PixelY,
						est.IntegratedX, est.IntegratedY, est.Quality, est.IntegrationUs)
				}
			}

			kinds := make([]string, 0, len(counts))
			for k := range counts {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			fmt.Print("summary:")
			for _, k := range kinds {
				fmt.Printf(" %s=%d", k, counts[k])
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Path to CBOR file or directory")
	cmd.Flags().IntVar(&limit, "limit", 5, "Max number of image messages to describe")
	cmd.Flags().BoolVar(&flowOn, "flow", false, "Run the flow estimator over the images in file order")
	cmd.Flags().Float64Var(&hfov, "hfov", 1.047, "Horizontal field of view (rad) used with --flow")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func generateCmd() *cobra.Command {
	var (
		out       string
		count     int
		camera    string
		rate      float64
		velX      float64
		velY      float64
		seed      int64
		algorithm string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write simulated frames as CBOR image messages, one file each",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
			sim := simulator.New(simulator.Config{
				Cameras: []simulator.Camera{{Name: camera, Width: frame.Size, Height: frame.Size}},
				Rate:    rate,
				VelX:    velX,
				VelY:    velY,
				Seed:    seed,
			})
			written := 0
			for written < count {
				for _, msg := range sim.Step() {
					if msg.Type != types.MessageImage {
						continue
					}
					payload, err := ingest.EncodeFrame(msg.Image, algorithm)
					if err != nil {
						return err
					}
					name := filepath.Join(out, fmt.Sprintf("frame_%06d.cbor", msg.Image.ImageID))
					if err := os.WriteFile(name, payload, 0o644); err != nil {
						return err
					}
					written++
				}
			}
			fmt.Printf("wrote %d frames to %s\n", written, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "frames", "Output directory")
	cmd.Flags().IntVar(&count, "count", 30, "Number of frames")
	cmd.Flags().StringVar(&camera, "camera", "iris::camera", "Camera name stamped on the frames")
	cmd.Flags().Float64Var(&rate, "rate", 30, "Reported frame rate")
	cmd.Flags().Float64Var(&velX, "vel-x", 30, "Image motion along x (px/s)")
	cmd.Flags().Float64Var(&velY, "vel-y", 0, "Image motion along y (px/s)")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Ground texture seed")
	cmd.Flags().StringVar(&algorithm, "compress", "", "Payload compression: zstd, s2 or empty")
	return cmd
}

func listFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) == ".cbor" {
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
