package cmd

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"lzd/internal/disasm"
	"lzd/internal/elfx"
	"lzd/internal/emit"
	"lzd/internal/logging"
	"lzd/internal/pool"
	"lzd/internal/proc"
	"lzd/internal/ui/colorize"
)

// collectSink accumulates batches from the workers for batch-mode
// output. Accept runs concurrently; take hands the sorted result back.
type collectSink struct {
	mu      sync.Mutex
	batches []*disasm.Batch
}

func (s *collectSink) Accept(b *disasm.Batch) {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
}

// take returns the collected batches sorted by base address. Workers
// complete in arbitrary order, so ordering happens here.
func (s *collectSink) take() []*disasm.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs := s.batches
	s.batches = nil
	sort.Slice(bs, func(i, j int) bool { return bs[i].Base < bs[j].Base })
	return bs
}

type dumpOptions struct {
	path       string
	pid        int
	procName   string
	start, end uint64 // decode window, both zero means everything
	threads    int
	asJSON     bool
}

type jsonInst struct {
	Address  string `json:"address"`
	Bytes    string `json:"bytes"`
	Mnemonic string `json:"mnemonic"`
	Operands string `json:"operands,omitempty"`
}

type jsonListing struct {
	File         string     `json:"file,omitempty"`
	PID          int        `json:"pid,omitempty"`
	Digest       string     `json:"digest,omitempty"`
	Arch         string     `json:"arch"`
	Batches      int        `json:"batches"`
	Instructions []jsonInst `json:"instructions"`
}

var dumpCmd = &cobra.Command{
	Use:   "dump [file]",
	Short: "Print a disassembly listing and exit",
	Long: `Dump decodes a binary's code section on the worker pool and prints
the listing to stdout. A window narrows the listing to an address
range; --pid or --proc snapshots a live process instead of a file.`,
	Example: `
# Dump a binary
lzd dump /path/to/binary

# Dump one address window as JSON
lzd dump --start 0x401000 --end 0x402000 -j /path/to/binary

# Snapshot a running process by name
lzd dump --proc dbus-daemon
  `,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threads, _ := cmd.Flags().GetInt("threads")
		asJSON, _ := cmd.Flags().GetBool("json")
		pid, _ := cmd.Flags().GetInt("pid")
		procName, _ := cmd.Flags().GetString("proc")
		startStr, _ := cmd.Flags().GetString("start")
		endStr, _ := cmd.Flags().GetString("end")

		start, err := parseAddr(startStr)
		if err != nil {
			return fmt.Errorf("bad --start: %w", err)
		}
		end, err := parseAddr(endStr)
		if err != nil {
			return fmt.Errorf("bad --end: %w", err)
		}
		if (start == 0) != (end == 0) || start > end {
			return fmt.Errorf("--start and --end must form a window")
		}

		opts := dumpOptions{
			pid:      pid,
			procName: procName,
			start:    start,
			end:      end,
			threads:  threads,
			asJSON:   asJSON,
		}
		if pid == 0 && procName == "" {
			if len(args) != 1 {
				return fmt.Errorf("need a file argument, or --pid/--proc")
			}
			opts.path = args[0]
		}
		return runDump(opts)
	},
}

func init() {
	dumpCmd.Flags().BoolP("json", "j", false, "Output the listing as JSON")
	dumpCmd.Flags().Int("pid", 0, "Snapshot a running process by pid instead of reading a file")
	dumpCmd.Flags().String("proc", "", "Snapshot a running process by name instead of reading a file")
	dumpCmd.Flags().String("start", "", "Window start address (hex with 0x prefix, or decimal)")
	dumpCmd.Flags().String("end", "", "Window end address, exclusive")
}

// parseAddr accepts hex with a 0x prefix or plain decimal. Empty means
// zero.
func parseAddr(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 0, 64)
}

func runDump(opts dumpOptions) error {
	lg := logging.NewLogger()
	defer lg.Close()

	if opts.threads < 1 {
		opts.threads = runtime.NumCPU()
	}
	p := pool.New(opts.threads)
	defer p.Close()

	var sink collectSink
	out := jsonListing{}

	if opts.pid != 0 || opts.procName != "" {
		pid := opts.pid
		if pid == 0 {
			var err error
			pid, err = proc.FindPID(opts.procName)
			if err != nil {
				return fmt.Errorf("finding process %q: %w", opts.procName, err)
			}
		}
		tag, err := hostTag()
		if err != nil {
			return err
		}
		lg.Debug("snapshotting process", "pid", pid, "tag", tag.String())
		if err := dispatchProcess(pid, tag, p, &sink, lg, opts); err != nil {
			return err
		}
		out.PID = pid
		out.Arch = tag.String()
	} else {
		img, err := elfx.Open(opts.path)
		if err != nil {
			return err
		}
		defer img.Close()

		tag, err := img.DetectTag()
		if err != nil {
			return err
		}
		text, ok := img.TextBytes()
		if !ok {
			return fmt.Errorf("no code section in %s", opts.path)
		}

		ectx := emit.New(tag, text, img.Text.VA, &sink)
		if err := ectx.ScanText(); err != nil {
			return err
		}
		lg.Debug("scanned code section", "bytes", len(text), "ranges", len(ectx.Ranges))

		if opts.start != 0 || opts.end != 0 {
			err = ectx.EmitRange(p, opts.start, opts.end)
		} else {
			err = ectx.EmitAll(p)
		}
		if err != nil {
			return err
		}

		out.File = opts.path
		out.Arch = tag.String()
		if d, derr := fileDigest(opts.path); derr == nil {
			out.Digest = d
		}
	}

	p.Drain()
	batches := sink.take()

	if opts.asJSON {
		return printJSON(os.Stdout, out, batches)
	}
	return printListing(os.Stdout, out, batches)
}

// dispatchProcess snapshots every executable mapping of a live process
// and dispatches each one through the scanner. Mappings that cannot be
// read, or that come back with holes, are skipped.
func dispatchProcess(pid int, tag disasm.Tag, p *pool.Pool, sink disasm.Sink, lg *logging.LoggerCloser, opts dumpOptions) error {
	maps, err := proc.ParseMaps(pid)
	if err != nil {
		return fmt.Errorf("reading maps of %d: %w", pid, err)
	}
	exec := proc.ExecutableMaps(maps)
	if len(exec) == 0 {
		return fmt.Errorf("pid %d has no executable mappings", pid)
	}

	dispatched := 0
	for _, mp := range exec {
		r, err := proc.NewRegion(pid, mp.Start, mp.End)
		if err != nil {
			continue
		}
		if _, err := r.Read(); err != nil {
			lg.Warn("skipping mapping", "pid", pid, "start", fmt.Sprintf("%x", mp.Start), "error", err)
			continue
		}
		data, ok := r.Slice(mp.Start, mp.End-mp.Start)
		if !ok {
			lg.Warn("mapping has unreadable pages", "pid", pid, "start", fmt.Sprintf("%x", mp.Start))
			continue
		}

		ectx := emit.New(tag, data, mp.Start, sink)
		ectx.PID = pid
		if err := ectx.ScanText(); err != nil {
			continue
		}
		if opts.start != 0 || opts.end != 0 {
			if err := ectx.EmitRange(p, opts.start, opts.end); err != nil {
				if errors.Is(err, emit.ErrNoIntersection) {
					continue
				}
				return err
			}
		} else if err := ectx.EmitAll(p); err != nil {
			return err
		}
		dispatched++
	}
	if dispatched == 0 {
		return fmt.Errorf("no readable executable mappings in pid %d", pid)
	}
	return nil
}

// hostTag maps the running architecture onto a decoder tag, for
// process snapshots where there is no ELF header to inspect.
func hostTag() (disasm.Tag, error) {
	switch runtime.GOARCH {
	case "amd64":
		return disasm.Tag{Family: disasm.FamilyX86, Bits: 64}, nil
	case "386":
		return disasm.Tag{Family: disasm.FamilyX86, Bits: 32}, nil
	case "arm64":
		return disasm.Tag{Family: disasm.FamilyARM64, Bits: 64}, nil
	}
	return disasm.Tag{}, fmt.Errorf("no decoder for host architecture %s", runtime.GOARCH)
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func printListing(w io.Writer, out jsonListing, batches []*disasm.Batch) error {
	useColor := colorize.Enabled() && term.IsTerminal(os.Stdout.Fd())

	if out.File != "" {
		fmt.Fprintf(w, "; %s\n", out.File)
	}
	if out.PID != 0 {
		fmt.Fprintf(w, "; pid %d\n", out.PID)
	}
	if out.Digest != "" {
		fmt.Fprintf(w, "; %s\n", out.Digest)
	}
	fmt.Fprintf(w, "; %s, %d batches\n\n", out.Arch, len(batches))

	for _, b := range batches {
		for _, in := range b.Insns {
			line := formatInst(in)
			if useColor {
				line = colorize.InstructionLine(line)
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func printJSON(w io.Writer, out jsonListing, batches []*disasm.Batch) error {
	out.Batches = len(batches)
	out.Instructions = []jsonInst{}
	for _, b := range batches {
		for _, in := range b.Insns {
			out.Instructions = append(out.Instructions, jsonInst{
				Address:  fmt.Sprintf("0x%x", in.VA),
				Bytes:    fmt.Sprintf("%x", in.Bytes),
				Mnemonic: in.Mnemonic,
				Operands: in.Args,
			})
		}
	}
	bts, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal listing: %w", err)
	}
	fmt.Fprintln(w, string(bts))
	return nil
}
