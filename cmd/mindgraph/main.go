package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/sipeed/mindgraph/pkg/activation"
	"github.com/sipeed/mindgraph/pkg/config"
	"github.com/sipeed/mindgraph/pkg/mind"
	"github.com/sipeed/mindgraph/pkg/vocab"
)

func main() {
	configPath := flag.String("config", "", "path to config JSON (default <data-dir>/config.json)")
	vocabPath := flag.String("vocab", "", "path to vocabulary JSON (overrides config)")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := run(*configPath, *vocabPath, log); err != nil {
		fmt.Fprintln(os.Stderr, "mindgraph:", mind.Sanitize(err))
		os.Exit(1)
	}
}

func run(configPath, vocabPath string, log *slog.Logger) error {
	if configPath == "" {
		configPath = filepath.Join(config.DefaultConfig().DataDirPath(), "config.json")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if vocabPath == "" {
		vocabPath = cfg.VocabFilePath()
	}
	v, err := vocab.Load(vocabPath)
	if err != nil {
		return err
	}

	var extractor activation.Extractor
	if cfg.Extractor.Enabled {
		extractor = activation.NewTetherExtractor(
			cfg.Extractor.Host, cfg.Extractor.Port,
			time.Duration(cfg.Extractor.TimeoutSeconds)*time.Second)
	}

	m, err := mind.New(cfg, v, extractor, log)
	if err != nil {
		return err
	}
	defer m.Close()
	m.StartSweeper()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mind> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".mindgraph_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "bye",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	// Closing the readline instance unblocks the prompt with io.EOF, so the
	// loop returns and shutdown runs through the deferred Close once.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		rl.Close()
	}()

	return repl(m, rl)
}

func repl(m *mind.Mind, rl *readline.Instance) error {
	fmt.Println("mindgraph ready, type 'help' for commands")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cmd, rest := splitCommand(line)
		if cmd == "quit" || cmd == "exit" {
			return nil
		}
		if err := dispatch(m, cmd, rest); err != nil {
			fmt.Println("error:", mind.Sanitize(err))
		}
	}
}

func splitCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

func dispatch(m *mind.Mind, cmd, rest string) error {
	switch cmd {
	case "help":
		printHelp()
		return nil
	case "save":
		return doSave(m, rest)
	case "query":
		return doQuery(m, rest)
	case "analyze":
		return doAnalyze(m, rest)
	case "related":
		return doRelated(m, rest)
	case "nodes":
		return doNodes(m, rest)
	case "status":
		return doStatus(m)
	case "sweep":
		return doSweep(m)
	default:
		return fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
}

func printHelp() {
	fmt.Print(`commands:
  save <text>              store a memory and learn associations
  query <node> [node ...]  recall memories touching the given concepts
  analyze <text>           score text without saving anything
  related <node> [depth]   walk associations outward from a concept
  nodes [category]         list vocabulary nodes
  status                   graph, mirror, and decay state
  sweep                    run one decay sweep now
  quit                     exit
`)
}

func doSave(m *mind.Mind, text string) error {
	if text == "" {
		return fmt.Errorf("usage: save <text>")
	}
	result, err := m.Save(mind.SaveRequest{Content: text, Source: "repl"})
	if errors.Is(err, mind.ErrNoActivation) {
		fmt.Println("no concepts activated, nothing saved")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Println("saved", result.MemoryID)
	for _, n := range result.ActivatedNodes {
		fmt.Printf("  %-24s %.2f  %s\n", n.Name, n.Score, strings.Join(n.MatchedPatterns, ", "))
	}
	for _, e := range result.StrengthenedEdges {
		verb := "strengthened"
		if e.Created {
			verb = "created"
		}
		fmt.Printf("  %s %s <-> %s (%.3f)\n", verb, e.Source, e.Target, e.Weight)
	}
	return nil
}

func doQuery(m *mind.Mind, rest string) error {
	if rest == "" {
		return fmt.Errorf("usage: query <node> [node ...]")
	}
	result, err := m.Query(mind.QueryRequest{Nodes: strings.Fields(rest)})
	if err != nil {
		return err
	}

	if len(result.Memories) == 0 {
		fmt.Println("no memories found")
	}
	for _, mem := range result.Memories {
		fmt.Printf("[%s] imp %.2f (eff %.2f) %s\n",
			mem.CreatedAt.Format("2006-01-02 15:04"), mem.Importance, mem.EffectiveImportance,
			truncate(mem.Content, 120))
		if mem.Activations != "" {
			fmt.Println("    via", mem.Activations)
		}
	}
	if len(result.RelatedConcepts) > 0 {
		fmt.Print("related: ")
		for i, r := range result.RelatedConcepts {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Printf("%s (%.2f)", r.Name, r.Weight)
		}
		fmt.Println()
	}
	return nil
}

func doAnalyze(m *mind.Mind, text string) error {
	if text == "" {
		return fmt.Errorf("usage: analyze <text>")
	}
	nodes, err := m.Analyze(text, -1)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Println("no concepts above threshold")
		return nil
	}
	for _, n := range nodes {
		boost := ""
		if n.Boosted {
			boost = " +boost"
		}
		fmt.Printf("  %-24s %.2f%s  %s\n", n.Name, n.Score, boost, strings.Join(n.MatchedPatterns, ", "))
	}
	return nil
}

func doRelated(m *mind.Mind, rest string) error {
	args := strings.Fields(rest)
	if len(args) == 0 {
		return fmt.Errorf("usage: related <node> [depth]")
	}
	depth := 1
	if len(args) > 1 {
		d, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("bad depth %q", args[1])
		}
		depth = d
	}

	neighbors, err := m.Related(args[0], 0, depth, 0)
	if err != nil {
		return err
	}
	if len(neighbors) == 0 {
		fmt.Println("no associations found")
		return nil
	}
	for _, n := range neighbors {
		fmt.Printf("  depth %d  %-24s %.3f  %s\n", n.Depth, n.Name, n.Weight, n.Category)
	}
	return nil
}

func doNodes(m *mind.Mind, category string) error {
	listing, err := m.ListNodes(category, 0, "category")
	if err != nil {
		return err
	}
	for _, n := range listing.Nodes {
		fmt.Printf("  %-20s %-24s %-16s %d activations\n", n.Slug, n.Name, n.Category, n.ActivationCount)
	}
	fmt.Println("categories:", strings.Join(listing.Categories, ", "))
	return nil
}

func doStatus(m *mind.Mind) error {
	st, err := m.Status()
	if err != nil {
		return err
	}

	fmt.Printf("nodes %d, edges %d, memories %d, activations %d\n",
		st.Counts.Nodes, st.Counts.Edges, st.Counts.Memories, st.Counts.TotalActivations)
	fmt.Printf("mirror enabled=%v synced=%v\n", st.Mirror.Enabled, st.Mirror.Synced)
	fmt.Printf("sweeper running=%v sweeps=%d\n", st.Sweeper.Running, st.Sweeper.SweepCount)
	fmt.Printf("decay: %d/%d memories immortal, %d decayed, %d/%d edges at floor, avg weight %.3f\n",
		st.DecayState.MemoriesImmortal, st.DecayState.MemoriesTotal,
		st.DecayState.MemoriesDecayed,
		st.DecayState.EdgesAtFloor, st.DecayState.EdgesTotal, st.DecayState.AvgEdgeWeight)

	if len(st.StrongestEdges) > 0 {
		fmt.Println("strongest edges:")
		for _, e := range st.StrongestEdges {
			fmt.Printf("  %s <-> %s  %.3f\n", e.Source, e.Target, e.Weight)
		}
	}
	if len(st.MostActiveNodes) > 0 {
		fmt.Println("most active nodes:")
		for _, n := range st.MostActiveNodes {
			fmt.Printf("  %-24s %d\n", n.Name, n.ActivationCount)
		}
	}
	return nil
}

func doSweep(m *mind.Mind) error {
	stats, err := m.Sweeper().RunSweep(time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("swept %d memories (%d decayed), %d edges (%d at floor)\n",
		stats.MemoriesSwept, stats.MemoriesDecayed, stats.EdgesSwept, stats.EdgesDecayed)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
