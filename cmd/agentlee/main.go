// =============================================================================
// Agent Lee 主入口
// =============================================================================
// 完整服务入口点，包含 HTTP 服务、健康检查、Prometheus 指标，
// 以及直接操作存储的离线训练命令
//
// 使用方法:
//
//	agentlee serve --config config.yaml              # 启动服务
//	agentlee ask --message "what do you offer?"      # 离线问答
//	agentlee teach --pattern hours --response "9-5"  # 教授固定问答
//	agentlee train --file site/index.html            # 从页面训练
//	agentlee export --out backup.json                # 导出训练状态
//	agentlee version                                 # 显示版本信息
//	agentlee health                                  # 健康检查
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/leesite/agentlee/agent/content"
	"github.com/leesite/agentlee/agent/memory"
	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errUsage 参数错误，已向 stderr 打印说明
var errUsage = errors.New("usage error")

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run 执行子命令并返回进程退出码
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	var err error
	switch args[0] {
	case "serve":
		err = runServe(args[1:], stderr)
	case "ask":
		err = runAsk(args[1:], stdout, stderr)
	case "teach":
		err = runTeach(args[1:], stdout, stderr)
	case "correct":
		err = runCorrect(args[1:], stdout, stderr)
	case "train":
		err = runTrain(args[1:], stdout, stderr)
	case "consolidate":
		err = runConsolidate(args[1:], stdout, stderr)
	case "stats":
		err = runStats(args[1:], stdout, stderr)
	case "export":
		err = runExport(args[1:], stdout, stderr)
	case "import":
		err = runImport(args[1:], stdout, stderr)
	case "reset":
		err = runReset(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
	case "health":
		err = runHealthCheck(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}

	if err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	loader := config.NewLoader().WithConfigPath(*configPath)
	cfg, err := loadConfig(loader)
	if err != nil {
		return err
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting Agent Lee",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg, loader, logger, level)
	if err := srv.Start(ctx); err != nil {
		srv.Shutdown()
		return fmt.Errorf("failed to start server: %w", err)
	}

	waitErr := srv.Wait(ctx)
	srv.Shutdown()
	if waitErr != nil {
		return waitErr
	}

	logger.Info("Agent Lee stopped")
	return nil
}

// =============================================================================
// 🧠 离线训练命令
// =============================================================================
// 离线命令直接打开配置中的存储，执行一次操作后关闭。日志写到 stderr，
// stdout 只输出结果。

// withTrainingSystem 加载配置、打开存储并恢复训练状态后执行 fn
func withTrainingSystem(configPath string, fn func(ctx context.Context, ts *memory.TrainingSystem) error) error {
	cfg, err := loadConfig(config.NewLoader().WithConfigPath(configPath))
	if err != nil {
		return err
	}
	cfg.Log.OutputPaths = []string{"stderr"}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persistence.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	ts, err := memory.NewTrainingSystem(cfg.Memory, store, nil, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer func() {
		if cerr := ts.Close(); cerr != nil {
			logger.Warn("failed to close store", zap.Error(cerr))
		}
	}()

	if _, err := ts.Load(ctx); err != nil {
		return fmt.Errorf("failed to load training state: %w", err)
	}
	return fn(ctx, ts)
}

func runAsk(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("ask", stderr)
	configPath := fs.String("config", "", "Path to config file")
	message := fs.String("message", "", "Question to answer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*message) == "" {
		return usageError(fs, "--message is required")
	}

	return withTrainingSystem(*configPath, func(ctx context.Context, ts *memory.TrainingSystem) error {
		reply := ts.Respond(ctx, *message)
		if !reply.Found() {
			fmt.Fprintln(stdout, "(no learned answer)")
			return nil
		}
		fmt.Fprintln(stdout, reply.Text)
		fmt.Fprintf(stdout, "  source: %s  confidence: %.2f\n", reply.Source, reply.Confidence)
		return nil
	})
}

func runTeach(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("teach", stderr)
	configPath := fs.String("config", "", "Path to config file")
	pattern := fs.String("pattern", "", "Question or keyword pattern")
	response := fs.String("response", "", "Answer to store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pattern == "" || *response == "" {
		return usageError(fs, "--pattern and --response are required")
	}

	return withTrainingSystem(*configPath, func(ctx context.Context, ts *memory.TrainingSystem) error {
		if err := ts.Teach(ctx, *pattern, *response); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Taught %q (%d knowledge items)\n", memory.Normalize(*pattern), ts.CountKnowledgeItems())
		return nil
	})
}

func runCorrect(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("correct", stderr)
	configPath := fs.String("config", "", "Path to config file")
	input := fs.String("input", "", "Input that was answered wrongly")
	response := fs.String("response", "", "Correct answer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" || *response == "" {
		return usageError(fs, "--input and --response are required")
	}

	return withTrainingSystem(*configPath, func(ctx context.Context, ts *memory.TrainingSystem) error {
		res, err := ts.Correct(ctx, *input, *response)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Correction stored as memory %d (%d patterns)\n", res.Memory.ID, len(res.Patterns))
		return nil
	})
}

func runTrain(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("train", stderr)
	configPath := fs.String("config", "", "Path to config file")
	var files stringList
	fs.Var(&files, "file", "Content file to train from (.html, .htm, .md); repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	files = append(files, fs.Args()...)
	if len(files) == 0 {
		return usageError(fs, "at least one --file is required")
	}

	return withTrainingSystem(*configPath, func(ctx context.Context, ts *memory.TrainingSystem) error {
		total := 0
		for _, path := range files {
			doc, err := content.LoadFile(ctx, path)
			if err != nil {
				return err
			}
			n := ts.TrainFromContent(ctx, doc)
			total += n
			fmt.Fprintf(stdout, "%s: %d items\n", path, n)
		}
		fmt.Fprintf(stdout, "Trained %d items (%d knowledge items)\n", total, ts.CountKnowledgeItems())
		return nil
	})
}

func runConsolidate(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("consolidate", stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withTrainingSystem(*configPath, func(ctx context.Context, ts *memory.TrainingSystem) error {
		report, err := ts.Consolidate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Promoted %d, pruned %d short-term and %d long-term (short-term %d, long-term %d)\n",
			report.Promoted, report.PrunedShortTerm, report.PrunedLongTerm, report.ShortTerm, report.LongTerm)
		return nil
	})
}

func runStats(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("stats", stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withTrainingSystem(*configPath, func(ctx context.Context, ts *memory.TrainingSystem) error {
		s := ts.Stats()
		fmt.Fprintf(stdout, "Interactions:        %d\n", s.TotalInteractions)
		fmt.Fprintf(stdout, "Successful:          %d\n", s.SuccessfulResponses)
		fmt.Fprintf(stdout, "Failed:              %d\n", s.FailedResponses)
		fmt.Fprintf(stdout, "Knowledge items:     %d\n", s.KnowledgeItems)
		fmt.Fprintf(stdout, "Short-term memories: %d\n", s.ShortTermMemories)
		fmt.Fprintf(stdout, "Long-term memories:  %d\n", s.LongTermMemories)
		if !s.LastConsolidation.IsZero() {
			fmt.Fprintf(stdout, "Last consolidation:  %s\n", s.LastConsolidation.Format(time.RFC3339))
		}
		return nil
	})
}

func runExport(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("export", stderr)
	configPath := fs.String("config", "", "Path to config file")
	out := fs.String("out", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withTrainingSystem(*configPath, func(ctx context.Context, ts *memory.TrainingSystem) error {
		if *out == "" {
			return memory.WriteSnapshot(stdout, ts.Export())
		}
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		if err := memory.WriteSnapshot(f, ts.Export()); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	})
}

func runImport(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("import", stderr)
	configPath := fs.String("config", "", "Path to config file")
	in := fs.String("in", "", "Snapshot file written by export")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return usageError(fs, "--in is required")
	}

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	snap, err := memory.ReadSnapshot(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	return withTrainingSystem(*configPath, func(ctx context.Context, ts *memory.TrainingSystem) error {
		report, err := ts.Import(ctx, snap)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Imported %d knowledge items and %d memories (%d skipped)\n",
			report.Knowledge, report.Memories, report.Skipped)
		return nil
	})
}

func runReset(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("reset", stderr)
	configPath := fs.String("config", "", "Path to config file")
	yes := fs.Bool("yes", false, "Confirm deleting all training data")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return usageError(fs, "reset deletes all knowledge and memories; pass --yes to confirm")
	}

	return withTrainingSystem(*configPath, func(ctx context.Context, ts *memory.TrainingSystem) error {
		if err := ts.ResetTraining(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Training data reset")
		return nil
	})
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("health", stderr)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimSuffix(*addr, "/") + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	fmt.Fprintln(stdout, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "Agent Lee %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Agent Lee - website assistant with learned memory

Usage:
  agentlee <command> [options]

Commands:
  serve        Start the HTTP server
  ask          Answer a question from the stored training state
  teach        Store a pattern and its answer
  correct      Replace the answer for an input
  train        Train from HTML or Markdown content files
  consolidate  Run one memory consolidation cycle
  stats        Show training statistics
  export       Write the training state as JSON
  import       Merge a JSON snapshot into the training state
  reset        Delete all training data
  version      Show version information
  health       Check server health
  help         Show this help message

Every command except version, health and help accepts:
  --config <path>   Path to configuration file (YAML)

Examples:
  agentlee serve --config /etc/agentlee/config.yaml
  agentlee ask --message "what services do you offer?"
  agentlee teach --pattern "opening hours" --response "Mon-Fri 9:00-17:00"
  agentlee train --file site/index.html --file docs/faq.md
  agentlee export --out backup.json
  agentlee reset --yes
  agentlee health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func usageError(fs *flag.FlagSet, msg string) error {
	fmt.Fprintf(fs.Output(), "%s: %s\n", fs.Name(), msg)
	fs.Usage()
	return errUsage
}

// loadConfig 加载并验证配置
func loadConfig(loader *config.Loader) (*config.Config, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// stringList 可重复的字符串 flag
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// parseLevel 解析日志级别，未知值按 info 处理
func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// initLogger 构建 logger，返回的 AtomicLevel 供配置热更新调整级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger, level
}
