package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/robert-malhotra/h5path/array"
	"github.com/robert-malhotra/h5path/hdf5"
	"github.com/robert-malhotra/h5path/slide"
)

// errUsage marks command-line mistakes; main exits with status 2 for them.
var errUsage = errors.New("usage")

type app struct {
	stdout io.Writer
	stderr io.Writer
	level  slog.Level
}

type command struct {
	name  string
	args  string
	about string
	run   func(a *app, ctx context.Context, args []string) error
}

var commands = []command{
	{"inspect", "FILE", "print the group tree with dataset layout and attributes", (*app).inspect},
	{"stats", "[-region SEL] [-mask NAME] FILE", "per-channel statistics of the slide array", (*app).stats},
	{"tiles", "FILE", "list tile records", (*app).tiles},
	{"repack", "[-config PROFILE] [-compression C] [-level N] [-workers N] [-force] SRC DST", "copy a file with new chunking and filters", (*app).repack},
	{"init-config", "[-force] PATH", "write the default storage profile", (*app).initConfig},
}

func (a *app) usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: h5path [-v] COMMAND [ARGS]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s %s\t%s\n", c.name, c.args, c.about)
	}
	tw.Flush()
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.usage(a.stderr)
		return errUsage
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(a, ctx, args[1:])
		}
	}
	a.usage(a.stderr)
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// parse parses args and checks the number of positional arguments.
func parse(fs *flag.FlagSet, args []string, want ...string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() != len(want) {
		return fmt.Errorf("%w: %s needs %s", errUsage, fs.Name(), strings.Join(want, " "))
	}
	return nil
}

func (a *app) slideLogger() *slide.Logger {
	return slide.NewLogger(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: a.level}))
}

func (a *app) fileLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: a.level}))
}

func (a *app) inspect(ctx context.Context, args []string) error {
	fs := a.flags("inspect")
	if err := parse(fs, args, "FILE"); err != nil {
		return err
	}
	f, err := hdf5.Open(fs.Arg(0), hdf5.WithMmap(), hdf5.WithLogger(a.fileLogger()))
	if err != nil {
		return err
	}
	defer f.Close()

	info := f.Info()
	fmt.Fprintf(a.stdout, "%s: superblock v%d, %d bytes\n", fs.Arg(0), info.SuperblockVersion, info.EOFAddress)
	return hdf5.Walk(f.Root(), func(p string, obj hdf5.Object, err error) error {
		if err != nil {
			fmt.Fprintf(a.stdout, "%s  ERROR %v\n", p, err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		depth := strings.Count(p, "/")
		if p == "/" {
			depth = 0
		}
		indent := strings.Repeat("  ", depth)
		switch o := obj.(type) {
		case *hdf5.Group:
			fmt.Fprintf(a.stdout, "%s%s/\n", indent, displayName(p))
		case *hdf5.Dataset:
			fmt.Fprintf(a.stdout, "%s%s %s %v %s", indent, displayName(p), o.DType(), o.Shape(), o.Layout())
			if c := o.Chunks(); c != nil {
				fmt.Fprintf(a.stdout, " chunks=%v", c)
			}
			if fl := o.Filters(); len(fl) > 0 {
				fmt.Fprintf(a.stdout, " filters=%s", strings.Join(fl, ","))
			}
			fmt.Fprintln(a.stdout)
		}
		attrs, err := obj.Attributes()
		if err != nil {
			return err
		}
		for _, at := range attrs {
			v, err := at.Value()
			if err != nil {
				fmt.Fprintf(a.stdout, "%s  @%s <%v>\n", indent, at.Name(), err)
				continue
			}
			fmt.Fprintf(a.stdout, "%s  @%s = %s\n", indent, at.Name(), formatValue(v))
		}
		return nil
	})
}

func displayName(p string) string {
	if p == "/" {
		return "/"
	}
	return p[strings.LastIndex(p, "/")+1:]
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case []string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprint(v)
	}
}

// stripRows is the strip height stats uses for a contiguous array.
const stripRows = 256

func (a *app) stats(ctx context.Context, args []string) error {
	fs := a.flags("stats")
	region := fs.String("region", "", "numpy-style selection, e.g. \"0:1024, 0:1024\"")
	mask := fs.String("mask", "", "also report the coverage of this mask over the region")
	if err := parse(fs, args, "FILE"); err != nil {
		return err
	}
	sel, err := array.ParseSelection(*region)
	if err != nil {
		return fmt.Errorf("%w: -region: %w", errUsage, err)
	}

	m, err := slide.Open(fs.Arg(0), slide.ReadOnly(), slide.WithLogger(a.slideLogger()))
	if err != nil {
		return err
	}
	defer m.Close()

	d, err := m.Array()
	if err != nil {
		return err
	}
	start, count, err := sel.Resolve(m.Shape())
	if err != nil {
		return fmt.Errorf("%w: -region: %w", errUsage, err)
	}
	if *mask != "" {
		names, err := m.MaskNames()
		if err != nil {
			return err
		}
		if !slices.Contains(names, *mask) {
			return fmt.Errorf("mask %q: %w", *mask, slide.ErrNotFound)
		}
	}

	// The region is read one strip of whole chunk rows at a time.
	rows := stripRows
	if c := d.Chunks(); len(c) > 0 {
		rows = c[0]
	}
	var (
		sums            []array.Summary
		covered, pixels int
	)
	if len(count) > 0 {
		end := start[0] + count[0]
		for r := start[0]; r < end; {
			if err := ctx.Err(); err != nil {
				return err
			}
			next := min(end, (r/rows+1)*rows)
			lo, n := slices.Clone(start), slices.Clone(count)
			lo[0], n[0] = r, next-r
			strip := array.Box(lo, n)

			img, err := m.ReadRegion(strip)
			if err != nil {
				return err
			}
			part, err := img.ChannelSummaries()
			if err != nil {
				return err
			}
			if sums == nil {
				sums = make([]array.Summary, len(part))
			}
			for c := range part {
				sums[c] = sums[c].Merge(part[c])
			}
			if *mask != "" {
				mk, err := m.GetMaskRegion(*mask, strip)
				if err != nil {
					return err
				}
				covered += mk.NonZero()
				pixels += mk.Len()
			}
			r = next
		}
	}

	fmt.Fprintf(a.stdout, "region %v of %v, %s\n", count, m.Shape(), d.DType())
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "channel\tcount\tmin\tmax\tmean\tstd\t")
	for c, s := range sums {
		fmt.Fprintf(tw, "%d\t%d\t%g\t%g\t%.4f\t%.4f\t\n", c, s.Count, s.Min, s.Max, s.Mean, s.Std)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if *mask != "" {
		coverage := 0.0
		if pixels > 0 {
			coverage = float64(covered) / float64(pixels)
		}
		fmt.Fprintf(a.stdout, "mask %s coverage %.4f\n", *mask, coverage)
	}
	return nil
}

func (a *app) tiles(ctx context.Context, args []string) error {
	fs := a.flags("tiles")
	if err := parse(fs, args, "FILE"); err != nil {
		return err
	}
	m, err := slide.Open(fs.Arg(0), slide.ReadOnly(), slide.WithLogger(a.slideLogger()))
	if err != nil {
		return err
	}
	defer m.Close()

	keys, err := m.TileKeys()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%d tiles, shape %v\n", len(keys), m.TileShape())
	if len(keys) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tCOORDS\tNAME\tLABELS")
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := m.TileRecord(k)
		if err != nil {
			return err
		}
		var labels []string
		for _, name := range slices.Sorted(maps.Keys(rec.Labels)) {
			labels = append(labels, name+"="+formatValue(rec.Labels[name]))
		}
		fmt.Fprintf(tw, "%s\t%v\t%s\t%s\n", rec.Key, rec.Coords, rec.Name, strings.Join(labels, " "))
	}
	return tw.Flush()
}

func (a *app) repack(ctx context.Context, args []string) (err error) {
	fs := a.flags("repack")
	profile := fs.String("config", "", "storage profile (YAML); defaults apply when empty")
	force := fs.Bool("force", false, "overwrite DST if it exists")
	compression := fs.String("compression", "", "override the profile compression (gzip, lz4, zstd, none)")
	level := fs.Int("level", 0, "override the profile compression level")
	workers := fs.Int("workers", 0, "override the profile worker count")
	if err := parse(fs, args, "SRC", "DST"); err != nil {
		return err
	}
	cfg, err := LoadConfig(*profile)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "compression":
			cfg.Storage.Compression = *compression
		case "level":
			cfg.Storage.Level = *level
		case "workers":
			cfg.Workers = *workers
		}
	})
	dsOpts, err := cfg.DatasetOptions()
	if err != nil {
		return err
	}
	srcPath, dstPath := fs.Arg(0), fs.Arg(1)

	fileOpts := append(cfg.FileOptions(), hdf5.WithLogger(a.fileLogger()))
	src, err := hdf5.Open(srcPath, append(fileOpts, hdf5.WithMmap())...)
	if err != nil {
		return err
	}
	defer src.Close()

	mode := hdf5.ModeCreateExclusive
	if *force {
		mode = hdf5.ModeCreate
	}
	dst, err := hdf5.OpenFile(dstPath, mode, fileOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dstPath)
		}
	}()

	if err := hdf5.CopyGroup(ctx, dst.Root(), src.Root(), dsOpts...); err != nil {
		return err
	}
	if err := dst.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "repacked %s -> %s (%d bytes)\n", srcPath, dstPath, dst.Info().EOFAddress)
	return nil
}

func (a *app) initConfig(ctx context.Context, args []string) error {
	fs := a.flags("init-config")
	force := fs.Bool("force", false, "overwrite an existing profile")
	if err := parse(fs, args, "PATH"); err != nil {
		return err
	}
	p := fs.Arg(0)
	if _, err := os.Stat(p); err == nil && !*force {
		return fmt.Errorf("%s: %w", p, os.ErrExist)
	}
	if err := SaveConfig(DefaultConfig(), p); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "wrote %s\n", p)
	return nil
}
