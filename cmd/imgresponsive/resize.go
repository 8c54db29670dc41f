package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Skryldev/image-responsive/core"
	"github.com/Skryldev/image-responsive/pipeline"
	"github.com/Skryldev/image-responsive/utils"
)

type resizeFlags struct {
	in, out          string
	policy           string
	width, height    int
	enlarge          bool
	anchorX, anchorY string
	fill             string
	overwrite        bool
	autoOrient       bool
	qualityJPEG      int
	compressionPNG   int
	qualityWebP      int
}

func newResizeCmd() *cobra.Command {
	var f resizeFlags
	cmd := &cobra.Command{
		Use:   "resize",
		Short: "Resize one image",
		Long: `Resize reads --in, computes a sampling plan for --policy and writes --out.

Policies:
  cover     scale and crop so the output is fully covered (needs --width and --height)
  crop      scale to the smaller ratio, then crop (needs --width and --height)
  fit       scale to exactly one of --width or --height
  max       scale the dominant axis down to --width (landscape) or --height (portrait)
  identity  re-encode without resizing`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			proc, cleanup, err := setup(cmd, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			req, err := f.request()
			if err != nil {
				return err
			}
			q := proc.Config().Quality
			if cmd.Flags().Changed("quality-jpeg") {
				q.JPEG = f.qualityJPEG
			}
			if cmd.Flags().Changed("compression-png") {
				q.PNG = f.compressionPNG
			}
			if cmd.Flags().Changed("quality-webp") {
				q.WebP = f.qualityWebP
			}
			req.Quality = q

			res := proc.Resize(cmd.Context(), req)
			if !res.OK {
				for _, msg := range res.Messages() {
					fmt.Fprintln(cmd.ErrOrStderr(), msg)
				}
				return errors.New("resize failed")
			}
			p := res.Plan
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %dx%d ratio=%.4f source=%.1fx%.1f@(%.1f,%.1f) bytes=%d\n",
				res.Input.Path, res.Output.Path, p.DestWidth, p.DestHeight, p.Ratio,
				p.SourceWidth, p.SourceHeight, p.SourceX, p.SourceY, res.Bytes)
			log.Info().Str("in", req.Input).Dur("elapsed", total(res)).Msg("resize done")
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.in, "in", "", "Input image")
	fl.StringVar(&f.out, "out", "", "Output image; the extension selects the format")
	fl.StringVar(&f.policy, "policy", "max", "Resize policy: cover, crop, fit, max or identity")
	fl.IntVar(&f.width, "width", 0, "Output width")
	fl.IntVar(&f.height, "height", 0, "Output height")
	fl.BoolVar(&f.enlarge, "enlarge", false, "Allow cover and crop to upscale")
	fl.StringVar(&f.anchorX, "anchor-x", "CENTER", "Horizontal anchor: LEFT, CENTER, RIGHT or an offset")
	fl.StringVar(&f.anchorY, "anchor-y", "0", "Vertical anchor: TOP, MIDDLE, BOTTOM or an offset")
	fl.StringVar(&f.fill, "fill", "", "Background colour #rrggbb[aa]")
	fl.BoolVar(&f.overwrite, "overwrite", false, "Replace an existing output file")
	fl.BoolVar(&f.autoOrient, "auto-orient", false, "Apply the EXIF orientation before resizing")
	fl.IntVar(&f.qualityJPEG, "quality-jpeg", 0, "JPEG quality 1-100")
	fl.IntVar(&f.compressionPNG, "compression-png", 0, "PNG compression level 0-9")
	fl.IntVar(&f.qualityWebP, "quality-webp", 0, "WebP quality 1-100")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// request translates the flags into a pipeline request. Quality is left to
// the caller.
func (f resizeFlags) request() (pipeline.Request, error) {
	policy, err := parsePolicy(f.policy, f.width, f.height, f.enlarge)
	if err != nil {
		return pipeline.Request{}, err
	}
	anchor, err := parseAnchor(f.anchorX, f.anchorY)
	if err != nil {
		return pipeline.Request{}, err
	}
	req := pipeline.Request{
		Input:      f.in,
		Output:     f.out,
		Policy:     policy,
		Width:      f.width,
		Height:     f.height,
		Anchor:     anchor,
		Overwrite:  f.overwrite,
		AutoOrient: f.autoOrient,
	}
	if f.fill != "" {
		c, err := utils.ParseHexColor(f.fill)
		if err != nil {
			return pipeline.Request{}, err
		}
		req.Fill = &c
	}
	return req, nil
}

func parsePolicy(name string, width, height int, enlarge bool) (core.Policy, error) {
	switch strings.ToLower(name) {
	case "cover":
		return core.Cover{Enlarge: enlarge}, nil
	case "crop":
		return core.Crop{Enlarge: enlarge}, nil
	case "fit":
		return core.FitAxis{Width: width, Height: height}, nil
	case "max":
		return core.BoundMax{MaxWidth: width, MaxHeight: height}, nil
	case "identity":
		return core.Identity{}, nil
	}
	return nil, fmt.Errorf("unknown policy %q", name)
}

func parseAnchor(x, y string) (core.Anchor, error) {
	ax, err := core.ParseCoordinate(x)
	if err != nil {
		return core.Anchor{}, fmt.Errorf("anchor-x: %w", err)
	}
	ay, err := core.ParseCoordinate(y)
	if err != nil {
		return core.Anchor{}, fmt.Errorf("anchor-y: %w", err)
	}
	return core.Anchor{X: ax, Y: ay}, nil
}

func total(res *pipeline.Result) (d time.Duration) {
	for _, t := range res.Timings {
		d += t
	}
	return d
}
