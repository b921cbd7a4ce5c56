package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"omrun/internal/config"
	"omrun/internal/model"
)

func (c *cli) inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "inspect",
		Short:   "Load and describe a model, then print its tensor sizes",
		Example: "  omrun inspect --model resnet50.om",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.resolve()
			if err != nil {
				return err
			}
			if err := requireModel(cfg); err != nil {
				return err
			}
			return c.inspect(cmd.OutOrStdout(), cfg)
		},
	}
	addModelFlags(cmd, &c.flags)
	return cmd
}

func (c *cli) inspect(w io.Writer, cfg config.Config) (err error) {
	res, err := c.openResource(cfg)
	if err != nil {
		return err
	}
	defer res.Close()

	proc := model.New(res.Runtime(), res.Mode(), model.WithLogger(c.log))
	defer func() {
		if cerr := proc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := proc.Load(cfg.Model); err != nil {
		return err
	}
	if err := proc.Describe(); err != nil {
		return err
	}
	d, _ := proc.Descriptor()
	work, weight := proc.MemorySizes()
	writeDescriptor(w, cfg.Model, res.Mode().String(), work, weight, d)
	return nil
}

func writeDescriptor(w io.Writer, path, mode string, work, weight uint64, d model.Descriptor) {
	fmt.Fprintf(w, "model:  %s\nmode:   %s\nwork:   %d bytes\nweight: %d bytes\n", path, mode, work, weight)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Tensor", "Index", "Bytes"})
	for i, n := range d.Inputs {
		table.Append([]string{"input", strconv.Itoa(i), strconv.FormatUint(n, 10)})
	}
	for i, n := range d.Outputs {
		table.Append([]string{"output", strconv.Itoa(i), strconv.FormatUint(n, 10)})
	}
	table.Render()
}
