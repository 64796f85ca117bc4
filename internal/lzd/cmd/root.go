package cmd

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"lzd/internal/analysis"
	"lzd/internal/disasm"
	"lzd/internal/elfx"
	"lzd/internal/emit"
	lzdlog "lzd/internal/lzd/log"
	"lzd/internal/pool"
	"lzd/internal/ui/colorize"
)

type viewMode int

const (
	viewListing viewMode = iota
	viewSymbols
	viewStrings
)

// sizeless symbols get a fixed decode window
const defaultSymbolWindow = 0x200

type symbolItem struct {
	address    uint64
	size       uint64
	original   string
	demangled  string
	filterTerm string // Pre-computed filter value
}

func (i symbolItem) Title() string {
	// This is used for filtering - return plain text
	return fmt.Sprintf("%x  %s", i.address, i.demangled)
}

func (i symbolItem) Description() string { return "" }

func (i symbolItem) FilterValue() string { return i.filterTerm }

// Custom item delegate for the symbols list
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(symbolItem)
	if !ok {
		return
	}

	indicator := " "
	addrStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")) // Gray for normal address
	nameStyle := lipgloss.NewStyle()
	if index == m.Index() {
		indicator = ">"
		addrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170")) // Purple for selected address
		nameStyle = lipgloss.NewStyle().Bold(true)
	}

	fmt.Fprintf(w, "%s %s  %s",
		indicator,
		addrStyle.Render(fmt.Sprintf("%12x", i.address)),
		nameStyle.Render(i.demangled))
}

// teaSink forwards completed batches into the running bubbletea
// program. Workers may call Accept before the program exists; batches
// arriving in that window are dropped, which only happens if dispatch
// is raced against program startup.
type teaSink struct {
	mu sync.Mutex
	p  *tea.Program
}

func (s *teaSink) attach(p *tea.Program) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
}

func (s *teaSink) Accept(b *disasm.Batch) {
	s.mu.Lock()
	p := s.p
	s.mu.Unlock()
	if p != nil {
		p.Send(batchMsg{batch: b})
	}
}

type model struct {
	viewport    viewport.Model
	symbolsList list.Model
	stringsView viewport.Model
	spinner     spinner.Model

	mode    viewMode
	path    string
	threads int

	digest        string
	loadingDigest bool
	loadingImage  bool
	decoding      int // outstanding decode jobs for the current listing

	img  *elfx.Image
	tag  disasm.Tag
	pl   *pool.Pool
	ectx *emit.Context
	sink *teaSink

	// pages is kept sorted by base address; batches arrive in
	// whatever order the workers finish.
	pages     []*disasm.Batch
	insnCount int

	symbols []analysis.Symbol
	strs    []analysis.StringResult

	window string // listing title when showing a symbol window
	status string
	err    error

	width  int
	height int
}

type imageLoadedMsg struct {
	img     *elfx.Image
	tag     disasm.Tag
	symbols []analysis.Symbol
	err     error
}

type digestCalculatedMsg struct {
	digest string
	err    error
}

type stringsMsg struct {
	strs []analysis.StringResult
}

type batchMsg struct {
	batch *disasm.Batch
}

func loadImageCmd(path string) tea.Cmd {
	return func() tea.Msg {
		img, err := elfx.Open(path)
		if err != nil {
			return imageLoadedMsg{err: err}
		}
		tag, err := img.DetectTag()
		if err != nil {
			img.Close()
			return imageLoadedMsg{err: err}
		}
		return imageLoadedMsg{img: img, tag: tag, symbols: analysis.ListSymbols(img)}
	}
}

func calculateDigestCmd(path string) tea.Cmd {
	return func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return digestCalculatedMsg{err: err}
		}
		defer f.Close()

		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return digestCalculatedMsg{err: err}
		}
		return digestCalculatedMsg{digest: fmt.Sprintf("sha256:%x", h.Sum(nil))}
	}
}

func extractStringsCmd(img *elfx.Image) tea.Cmd {
	return func() tea.Msg {
		return stringsMsg{strs: analysis.ExtractStrings(img, 0)}
	}
}

func NewModel(path string, threads int) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	delegate := itemDelegate{}
	symbolsList := list.New([]list.Item{}, delegate, 80, 24)
	symbolsList.SetShowStatusBar(false)
	symbolsList.SetFilteringEnabled(true)
	symbolsList.Title = "Symbols"
	symbolsList.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)
	symbolsList.SetShowHelp(true)

	sv := viewport.New()
	sv.SetWidth(80)
	sv.SetHeight(24)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	m := model{
		viewport:      vp,
		symbolsList:   symbolsList,
		stringsView:   sv,
		spinner:       s,
		mode:          viewListing,
		path:          path,
		threads:       threads,
		loadingDigest: true,
		loadingImage:  true,
		sink:          &teaSink{},
		width:         80,
		height:        24,
	}
	m.updateListing()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		loadImageCmd(m.path),
		calculateDigestCmd(m.path),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case imageLoadedMsg:
		m.loadingImage = false
		if msg.err != nil {
			m.err = msg.err
			m.updateListing()
			return m, nil
		}
		m.img = msg.img
		m.tag = msg.tag
		m.symbols = msg.symbols
		m.updateSymbolsList()
		m.startPipeline()
		m.updateListing()
		return m, extractStringsCmd(m.img)

	case digestCalculatedMsg:
		m.loadingDigest = false
		if msg.err == nil {
			m.digest = msg.digest
		}
		m.updateListing()
		return m, nil

	case stringsMsg:
		m.strs = msg.strs
		m.updateStringsView()
		return m, nil

	case batchMsg:
		m.insertBatch(msg.batch)
		if m.decoding > 0 {
			m.decoding--
		}
		m.updateListing()
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		if m.loadingDigest || m.loadingImage || m.decoding > 0 {
			m.updateListing()
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
			m.symbolsList.SetWidth(msg.Width)
			m.symbolsList.SetHeight(msg.Height - 2)
			m.stringsView.SetWidth(msg.Width)
			m.stringsView.SetHeight(msg.Height - 2)
			m.updateListing()
		}

	case tea.KeyMsg:
		// While the symbols list is filtering, only quit keys are
		// intercepted; everything else goes to the list.
		if m.mode == viewSymbols && m.symbolsList.FilterState() == list.Filtering {
			switch msg.String() {
			case "q", "ctrl+c":
				m.teardown()
				return m, tea.Quit
			}
		} else {
			switch msg.String() {
			case "q", "ctrl+c":
				m.teardown()
				return m, tea.Quit
			case "l":
				m.mode = viewListing
				return m, nil
			case "s":
				if len(m.symbols) > 0 {
					m.mode = viewSymbols
				}
				return m, nil
			case "x":
				if len(m.strs) > 0 {
					m.mode = viewStrings
				}
				return m, nil
			case "a":
				// Back to the full listing.
				if m.ectx != nil && m.window != "" {
					m.showAll()
				}
				return m, nil
			case "enter":
				if m.mode == viewSymbols {
					if it, ok := m.symbolsList.SelectedItem().(symbolItem); ok && m.ectx != nil {
						m.showSymbol(it)
					}
				}
				return m, nil
			case "tab":
				switch m.mode {
				case viewListing:
					if len(m.symbols) > 0 {
						m.mode = viewSymbols
					} else if len(m.strs) > 0 {
						m.mode = viewStrings
					}
				case viewSymbols:
					if len(m.strs) > 0 {
						m.mode = viewStrings
					} else {
						m.mode = viewListing
					}
				case viewStrings:
					m.mode = viewListing
				}
				return m, nil
			case "shift+tab":
				switch m.mode {
				case viewListing:
					if len(m.strs) > 0 {
						m.mode = viewStrings
					} else if len(m.symbols) > 0 {
						m.mode = viewSymbols
					}
				case viewSymbols:
					m.mode = viewListing
				case viewStrings:
					if len(m.symbols) > 0 {
						m.mode = viewSymbols
					} else {
						m.mode = viewListing
					}
				}
				return m, nil
			}
		}
	}

	// Update the active view
	switch m.mode {
	case viewSymbols:
		m.symbolsList, cmd = m.symbolsList.Update(msg)
	case viewStrings:
		m.stringsView, cmd = m.stringsView.Update(msg)
	default:
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

// startPipeline creates the worker pool and dispatches the whole code
// section. Called once, after the image loads.
func (m *model) startPipeline() {
	text, ok := m.img.TextBytes()
	if !ok {
		m.err = errors.New("no code section in image")
		return
	}

	m.pl = pool.New(m.threads)
	m.ectx = emit.New(m.tag, text, m.img.Text.VA, m.sink)
	if err := m.ectx.ScanText(); err != nil {
		m.err = err
		return
	}
	if err := m.ectx.EmitAll(m.pl); err != nil {
		m.err = err
		return
	}
	m.decoding = len(m.ectx.Ranges)
}

// showSymbol replaces the listing with the decode window of one symbol.
func (m *model) showSymbol(it symbolItem) {
	start := it.address
	size := it.size
	if size == 0 {
		size = defaultSymbolWindow
	}

	m.pages = nil
	m.insnCount = 0
	m.decoding = 0
	m.window = fmt.Sprintf("%s @ %x", it.demangled, it.address)

	err := m.ectx.EmitRange(m.pl, start, start+size)
	switch {
	case errors.Is(err, emit.ErrNoIntersection):
		m.status = fmt.Sprintf("no code ranges at %x", start)
	case err != nil:
		m.status = err.Error()
	default:
		m.status = ""
		m.mode = viewListing
		m.viewport.GotoTop()
	}
	m.updateListing()
}

// showAll restores the full-section listing after a symbol window.
func (m *model) showAll() {
	m.pages = nil
	m.insnCount = 0
	m.window = ""
	m.status = ""
	if err := m.ectx.EmitAll(m.pl); err != nil {
		m.status = err.Error()
	} else {
		m.decoding = len(m.ectx.Ranges)
	}
	m.mode = viewListing
	m.viewport.GotoTop()
	m.updateListing()
}

func (m *model) teardown() {
	if m.pl != nil {
		m.pl.Shutdown()
		m.pl = nil
	}
	if m.img != nil {
		m.img.Close()
		m.img = nil
	}
}

// insertBatch keeps pages sorted by base address regardless of worker
// completion order.
func (m *model) insertBatch(b *disasm.Batch) {
	i := sort.Search(len(m.pages), func(i int) bool { return m.pages[i].Base > b.Base })
	m.pages = append(m.pages, nil)
	copy(m.pages[i+1:], m.pages[i:])
	m.pages[i] = b
	m.insnCount += len(b.Insns)
}

func (m *model) updateListing() {
	var b strings.Builder

	fmt.Fprintf(&b, "; %s\n", m.path)
	if m.digest != "" {
		fmt.Fprintf(&b, "; %s\n", m.digest)
	} else if m.loadingDigest {
		fmt.Fprintf(&b, "; %s calculating digest...\n", m.spinner.View())
	}
	if m.img != nil {
		fmt.Fprintf(&b, "; %s  %s %x-%x\n", m.tag, m.img.Text.Name, m.img.Text.VA, m.img.Text.VA+m.img.Text.Size)
	}
	if m.window != "" {
		fmt.Fprintf(&b, "; %s\n", m.window)
	}
	if m.status != "" {
		fmt.Fprintf(&b, "; %s\n", m.status)
	}
	if m.err != nil {
		fmt.Fprintf(&b, "; error: %v\n", m.err)
	}
	b.WriteByte('\n')

	for _, pg := range m.pages {
		for _, in := range pg.Insns {
			b.WriteString(colorize.InstructionLine(formatInst(in)))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	if m.loadingImage {
		fmt.Fprintf(&b, "%s loading image...\n", m.spinner.View())
	} else if m.decoding > 0 {
		fmt.Fprintf(&b, "%s decoding, %d ranges left...\n", m.spinner.View(), m.decoding)
	}

	m.viewport.SetContent(b.String())
}

func (m *model) updateSymbolsList() {
	items := make([]list.Item, 0, len(m.symbols))
	for _, sym := range m.symbols {
		name := sym.Demangled
		if name == "" {
			name = sym.Name
		}
		items = append(items, symbolItem{
			address:    sym.VA,
			size:       sym.Size,
			original:   sym.Name,
			demangled:  name,
			filterTerm: fmt.Sprintf("%x %s", sym.VA, name),
		})
	}
	m.symbolsList.SetItems(items)
	m.symbolsList.Title = fmt.Sprintf("Symbols (%d total)", len(items))
}

func (m *model) updateStringsView() {
	var b strings.Builder
	fmt.Fprintf(&b, "; %d strings\n\n", len(m.strs))
	for _, s := range m.strs {
		fmt.Fprintf(&b, "%12x  %-10s  %s\n", s.VA, s.Section, s.Value)
	}
	m.stringsView.SetContent(b.String())
}

func (m model) View() string {
	var content string
	switch m.mode {
	case viewSymbols:
		content = m.symbolsList.View()
	case viewStrings:
		content = m.stringsView.View()
	default:
		content = m.viewport.View()
	}

	var menu string
	switch m.mode {
	case viewSymbols:
		menu = " Enter: disassemble • L: listing • X: strings • Tab: cycle • Q: quit "
	case viewStrings:
		menu = " L: listing • S: symbols • Tab: cycle • Q: quit "
	default:
		if m.window != "" {
			menu = " A: full listing • S: symbols • X: strings • Tab: cycle • Q: quit "
		} else {
			menu = " S: symbols • X: strings • Tab: cycle • Q: quit "
		}
	}

	menuStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1).
		Width(m.width)

	return content + "\n" + menuStyle.Render(menu)
}

// formatInst renders one instruction line: address, raw bytes,
// mnemonic, operands.
func formatInst(in disasm.Inst) string {
	var hexb strings.Builder
	for _, b := range in.Bytes {
		fmt.Fprintf(&hexb, "%02x ", b)
	}
	line := fmt.Sprintf("%8x: %-24s %s", in.VA, strings.TrimRight(hexb.String(), " "), in.Mnemonic)
	if in.Args != "" {
		line += " " + in.Args
	}
	return line
}

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().IntP("threads", "t", runtime.NumCPU(), "Worker count for the decode pool")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().BoolP("no-tui", "n", false, "Print the listing without the TUI")
	rootCmd.Flags().BoolP("json", "j", false, "Output the listing as JSON")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.Flags().String("memprofile", "", "Write memory profile to file")

	rootCmd.AddCommand(dumpCmd)
}

var rootCmd = &cobra.Command{
	Use:   "lzd [file]",
	Short: "Terminal-based disassembly viewer",
	Long: `Lzd is a terminal-based disassembly viewer for ELF binaries.
It scans the code section, decodes it on a worker pool, and presents
the listing, symbols, and strings in an interactive TUI.`,
	Example: `
# Browse a binary interactively
lzd /path/to/binary

# Print the listing to stdout
lzd -n /path/to/binary
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		lzdlog.Setup(debug)

		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %v", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %v", err)
			}
			defer pprof.StopCPUProfile()
		}

		memprofile, _ := cmd.Flags().GetString("memprofile")
		if memprofile != "" {
			defer func() {
				f, err := os.Create(memprofile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
					return
				}
				defer f.Close()
				if err := pprof.WriteHeapProfile(f); err != nil {
					fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
				}
			}()
		}

		absPath, err := pathpkg.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %v", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", args[0])
			}
			return fmt.Errorf("cannot access file: %v", err)
		}

		threads, _ := cmd.Flags().GetInt("threads")
		noTUI, _ := cmd.Flags().GetBool("no-tui")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		// Piped output implies no TUI and no escape codes.
		if !term.IsTerminal(os.Stdout.Fd()) {
			noTUI = true
			os.Setenv("LZD_NO_COLOR", "1")
		}

		if jsonOutput || noTUI {
			return runDump(dumpOptions{
				path:    absPath,
				threads: threads,
				asJSON:  jsonOutput,
			})
		}

		m := NewModel(absPath, threads)
		program := tea.NewProgram(
			m,
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
			// Mouse tracking disabled to allow native text selection
		)
		m.sink.attach(program)

		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

func Execute() {
	// Bypass fang's markdown rendering for machine-readable output and
	// when the output is being piped.
	noTUI := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "--json" || arg == "-j" {
			noTUI = true
			break
		}
	}
	if !noTUI && !term.IsTerminal(os.Stdout.Fd()) {
		noTUI = true
	}

	if noTUI {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
	} else {
		if err := fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		); err != nil {
			os.Exit(1)
		}
	}
}
