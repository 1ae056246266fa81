package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/app"
	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/progress"
	"github.com/formpilot/formpilot/internal/sheet"
)

var (
	green  = color.New(color.FgGreen, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow, color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
	bold   = color.New(color.Bold)
	dim    = color.New(color.Faint)
)

func main() {
	file := flag.String("file", "", "Workbook to read answers from (.xlsx)")
	sheetName := flag.String("sheet", "", "Sheet to fill")
	user := flag.String("user", "anonymous", "User key owning the browser session")
	list := flag.Bool("list", false, "List the workbook's sheets and exit")
	mock := flag.Bool("mock", false, "Use the built-in demo browser instead of Chromium")
	verbose := flag.Bool("verbose", false, "Verbose output")

	flag.Parse()

	if *file == "" {
		red.Println("✗ -file is required")
		flag.Usage()
		os.Exit(2)
	}

	if *list {
		if err := listSheets(*file); err != nil {
			red.Printf("✗ %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *sheetName == "" {
		red.Println("✗ -sheet is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.LoadWithDefaults()
	if *mock {
		cfg.Browser.Mock = true
	}

	// Setup logger
	var logger *zap.Logger
	if *verbose {
		logger, _ = zap.NewDevelopment()
	} else {
		zcfg := zap.NewProductionConfig()
		zcfg.OutputPaths = []string{"/dev/null"}
		logger, _ = zcfg.Build()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.Build(ctx, cfg, nil, logger, app.Options{LocalProgress: true})

	printBanner(*file, *sheetName, *user)

	events, leave := a.Hub.Subscribe(*user)
	done := make(chan struct{})
	go func() {
		defer close(done)
		showProgress(events)
	}()

	result := a.Fills.Run(ctx, domain.FillRequest{
		RunID:        uuid.New(),
		UserKey:      *user,
		WorkbookPath: *file,
		SheetName:    *sheetName,
	})

	leave()
	<-done

	if err := a.Close(); err != nil && *verbose {
		yellow.Printf("⚠ Shutdown incomplete: %v\n", err)
	}

	if !printResult(result) {
		os.Exit(1)
	}
}

func listSheets(path string) error {
	infos, err := sheet.Describe(path)
	if err != nil {
		return err
	}
	bold.Printf("Sheets in %s\n", filepath.Base(path))
	for _, info := range infos {
		fmt.Printf("  %2d. %-24s ", info.Index+1, info.Name)
		dim.Printf("→ %s\n", info.PageName)
	}
	return nil
}

// showProgress renders events until the channel closes
func showProgress(events <-chan progress.Event) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("   Filling..."),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	defer bar.Finish()

	for e := range events {
		switch e.Kind {
		case progress.KindProgress:
			if e.Status != "" {
				bar.Describe("   " + e.Status)
			}
			_ = bar.Set(e.Percent)
		case progress.KindNotification:
			_ = bar.Clear()
			switch e.NotificationType {
			case progress.NotifySuccess:
				green.Printf("\n   ✓ %s\n", e.Message)
			case progress.NotifyDanger:
				red.Printf("\n   ✗ %s\n", e.Message)
			case progress.NotifyWarning:
				yellow.Printf("\n   ⚠ %s\n", e.Message)
			default:
				cyan.Printf("\n   ℹ %s\n", e.Message)
			}
		}
	}
}

func printBanner(file, sheetName, user string) {
	fmt.Println()
	cyan.Println("  FormPilot")
	dim.Println("  Spreadsheet answers into the web form")
	fmt.Println()
	fmt.Printf("  Workbook: %s\n", bold.Sprint(filepath.Base(file)))
	fmt.Printf("  Sheet:    %s\n", bold.Sprint(sheetName))
	fmt.Printf("  User:     %s\n", user)
	fmt.Println()
}

// printResult reports the outcome and returns whether the fill succeeded
func printResult(result *domain.FillResult) bool {
	fmt.Println()
	if result.IsSuccess {
		green.Printf("✓ %s\n", result.Status)
	} else {
		red.Printf("✗ %s\n", result.Status)
		if result.ErrorMessage != "" {
			red.Printf("  %s\n", result.ErrorMessage)
		}
	}

	fmt.Printf("  Processed: %d / %d", result.ProcessedCount, result.TotalCount)
	if result.FailedCount > 0 {
		yellow.Printf("  (%d failed)", result.FailedCount)
	}
	fmt.Println()
	if result.PageNumber > 0 {
		fmt.Printf("  Page:      %s\n", domain.PageName(result.PageNumber))
	}
	fmt.Printf("  Duration:  %s\n", time.Duration(result.Duration)*time.Millisecond)

	if len(result.Logs) > 0 {
		fmt.Println()
		bold.Println("Log")
		for _, line := range result.Logs {
			dim.Printf("  %s\n", line)
		}
	}
	return result.IsSuccess
}
