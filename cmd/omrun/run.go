package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"omrun/internal/config"
	"omrun/internal/model"
	"omrun/internal/resource"
	"omrun/internal/sample"
	"omrun/pkg/types"
)

func (c *cli) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the model over one or more raw input files",
		Example: "  omrun run --model resnet50.om --input dog.bin --input cat.bin\n" +
			"  omrun run --backend sim --model model.yaml --input in.bin --dump out/",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.resolve()
			if err != nil {
				return err
			}
			if err := requireModel(cfg); err != nil {
				return err
			}
			if len(cfg.Inputs) == 0 {
				return fmt.Errorf("no inputs: set --input or 'inputs' in the config file")
			}
			reports, err := c.run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			writeReports(cmd.OutOrStdout(), reports)
			return nil
		},
	}
	addModelFlags(cmd, &c.flags)
	f := cmd.Flags()
	f.StringSliceVar(&c.flags.Inputs, "input", nil, "Raw input tensor file (repeatable)")
	f.IntVar(&c.flags.TopK, "top-k", 0, "Elements to rank per output, 0 keeps the configured value (default 5)")
	f.BoolVar(&c.flags.NoRank, "no-rank", false, "Skip ranking; only report sizes and dumps")
	f.StringVar(&c.flags.DumpDir, "dump", "", "Write every raw output to this directory")
	f.StringVar(&c.flags.OutputDType, "dtype", "", "Output element type: float32|float16 (default float32)")
	return cmd
}

// addModelFlags registers the flags every model-loading command shares.
func addModelFlags(cmd *cobra.Command, dst *config.Config) {
	f := cmd.Flags()
	f.StringVar(&dst.Model, "model", "", "Offline model file (a manifest for the sim backend)")
	f.StringVar(&dst.Backend, "backend", "", "Runtime backend: acl|sim|ort (default acl)")
	f.IntVar(&dst.DeviceID, "device", 0, "Device id")
	f.StringVar(&dst.ACLConfig, "acl-config", "", "Runtime init config file")
	f.StringVar(&dst.SimRunMode, "sim-run-mode", "", "Run mode emulated by the sim backend: host|device (default host)")
	f.StringVar(&dst.ORTLibrary, "ort-library", "", "ONNX Runtime shared library for the ort backend")
}

func sampleOptions(c *cli, cfg config.Config) (sample.Options, error) {
	dt, err := model.ParseDType(cfg.OutputDType)
	if err != nil {
		return sample.Options{}, err
	}
	return sample.Options{
		Model:   cfg.Model,
		TopK:    cfg.RankK(),
		DType:   dt,
		DumpDir: cfg.DumpDir,
		Logger:  c.log,
	}, nil
}

// openResource opens the backend and brings up the process resources.
func (c *cli) openResource(cfg config.Config) (*resource.Resource, error) {
	rt, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	res := resource.New(rt, int32(cfg.DeviceID), resource.WithLogger(c.log), resource.WithConfigPath(cfg.ACLConfig))
	if err := res.Init(); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *cli) run(ctx context.Context, cfg config.Config) ([]types.RunReport, error) {
	opts, err := sampleOptions(c, cfg)
	if err != nil {
		return nil, err
	}
	res, err := c.openResource(cfg)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	if ctx == nil {
		ctx = context.Background()
	}
	return sample.NewRunner(res.Runtime(), res.Mode(), opts).Run(ctx, cfg.Inputs)
}

// writeReports prints one row per ranked element, or one row per output when
// ranking is disabled.
func writeReports(w io.Writer, reports []types.RunReport) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Input", "Output", "Bytes", "Rank", "Index", "Value", "Dump"})
	table.SetAutoMergeCells(true)
	table.SetRowLine(false)
	for _, r := range reports {
		for _, o := range r.Outputs {
			base := []string{r.Input, strconv.Itoa(o.Index), strconv.FormatUint(o.Bytes, 10)}
			if len(o.Top) == 0 {
				table.Append(append(base, "-", "-", "-", o.DumpPath))
				continue
			}
			for rank, e := range o.Top {
				table.Append(append(base[:3:3], strconv.Itoa(rank+1), strconv.Itoa(e.Index),
					strconv.FormatFloat(float64(e.Value), 'f', 6, 32), o.DumpPath))
			}
		}
	}
	table.Render()
}
