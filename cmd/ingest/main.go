// 命令行导入工具：把本地PDF导入向量库，可选进入问答模式
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/fyerfyer/pdf-QA-system/api/middleware"
	"github.com/fyerfyer/pdf-QA-system/config"
	"github.com/fyerfyer/pdf-QA-system/internal/app"
	"github.com/fyerfyer/pdf-QA-system/internal/document"
	"github.com/fyerfyer/pdf-QA-system/internal/services"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to config file")
	ask := flag.Bool("ask", false, "Start an interactive Q&A session after ingestion")
	verbose := flag.Bool("v", false, "Print every record status line")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := middleware.ConfigureLogger(middleware.LogOptions{
		Level:  cfg.Log.Level,
		Format: "text",
		File:   cfg.Log.File,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	// 进度条占用终端，日志只写文件
	if cfg.Log.File == "" {
		logger.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, app.Options{SkipLLM: !*ask, SkipQueue: true})
	if err != nil {
		color.Red("Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	inputs, err := collectInputs(flag.Args())
	if err != nil {
		color.Red("%v\n", err)
		os.Exit(1)
	}

	if len(inputs) > 0 {
		if err := ingest(ctx, application.Ingest, inputs, *verbose); err != nil {
			color.Red("\nIngestion interrupted: %v\n", err)
			os.Exit(1)
		}
	} else if !*ask {
		color.Yellow("%s\n", services.MsgNoFiles)
		return
	}

	if *ask {
		chat(ctx, application.QA)
	}
}

// collectInputs 展开目录，只保留PDF
func collectInputs(args []string) ([]services.Input, error) {
	var inputs []services.Input
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}
		if !info.IsDir() {
			if document.IsPDF(arg) {
				inputs = append(inputs, services.Input{Path: arg})
			}
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot list %s: %w", arg, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && document.IsPDF(e.Name()) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			inputs = append(inputs, services.Input{Path: filepath.Join(arg, name)})
		}
	}
	return inputs, nil
}

func ingest(ctx context.Context, svc *services.IngestService, inputs []services.Input, verbose bool) error {
	color.Blue("\nIngesting %d PDF file(s)\n", len(inputs))

	var totalInserted, totalSkipped, totalFailed int
	for _, in := range inputs {
		var bar *progressbar.ProgressBar
		progress := func(file string, page, total int) {
			if bar == nil {
				bar = getProgressBar(total, "📄 "+file)
			}
			_ = bar.Set(page)
		}

		report, err := svc.IngestFile(ctx, in, progress)
		if bar != nil {
			_ = bar.Finish()
			fmt.Print("\n")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if verbose {
			for _, line := range report.Messages() {
				fmt.Println(line)
			}
		}
		switch {
		case err != nil || report.Error != "":
			color.Red("%s\n", report.Summary)
		case report.Duplicate:
			color.Yellow("%s\n", report.Summary)
		default:
			color.Green("%s\n", report.Summary)
		}
		totalInserted += report.Inserted
		totalSkipped += report.Skipped
		totalFailed += report.Failed
	}

	color.Cyan("\n✓ inserted: %d, skipped: %d, failed: %d\n", totalInserted, totalSkipped, totalFailed)
	return nil
}

// chat 交互式问答，输入exit退出
func chat(ctx context.Context, qa *services.QAService) {
	color.Cyan("\nAsk questions about your PDFs (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nSoru: ")
		if !scanner.Scan() {
			return
		}
		question := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(question, "exit") {
			return
		}
		if question == "" {
			continue
		}

		spinner := getSpinner("🔍 Searching...")
		ans, err := qa.Ask(ctx, question)
		_ = spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}
		assistantPrompt("Yanıt: %s\n", ans.Answer)
		for _, src := range ans.Sources {
			color.HiBlack("  • %s (sayfa %d, %.2f)\n", src.RecordID, src.Page, src.Score)
		}
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
	)
}
