// Package main — garantctl, консольные команды обслуживания гаранта.
// Работает с тем же хранилищем и шлюзом, что и бот, но без Telegram.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"serotonyl.ru/garant-bot/internal/app"
	"serotonyl.ru/garant-bot/internal/config"
	"serotonyl.ru/garant-bot/internal/features/admin"
	"serotonyl.ru/garant-bot/internal/features/deals"
)

var rootCmd = &cobra.Command{
	Use:           "garantctl",
	Short:         "Обслуживание бота-гаранта",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(statsCmd, archiveCmd, repairCmd, dealCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Сводка по пользователям и сделкам",
	Args:  cobra.NoArgs,
	RunE: withCore(func(ctx context.Context, cmd *cobra.Command, core *app.Core, _ []string) error {
		st, err := core.Admin.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), admin.FormatStats(st))
		return nil
	}),
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Удалить завершённые сделки без денег в пути",
	Args:  cobra.NoArgs,
	RunE: withCore(func(ctx context.Context, cmd *cobra.Command, core *app.Core, _ []string) error {
		n, err := core.Admin.Archive(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Архивировано сделок: %d\n", n)
		return nil
	}),
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Сверить застрявшие переводы и неоплаченные счета",
	Args:  cobra.NoArgs,
	RunE: withCore(func(ctx context.Context, cmd *cobra.Command, core *app.Core, _ []string) error {
		transfers, invoices, err := core.Admin.Repair(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "Переводов: %d, счетов: %d\n", transfers, invoices)
		return err
	}),
}

var dealCmd = &cobra.Command{
	Use:   "deal DEAL_ID",
	Short: "Показать сделку и её журнал",
	Args:  cobra.ExactArgs(1),
	RunE: withCore(func(ctx context.Context, cmd *cobra.Command, core *app.Core, args []string) error {
		report, err := core.Admin.FindDeal(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, deals.FormatCard(report.Deal, 0))
		fmt.Fprintln(out)
		fmt.Fprintln(out, deals.FormatTransactions(report.Deal, report.Transactions))
		return nil
	}),
}

// withCore загружает конфигурацию и сервисы перед командой и закрывает их после.
func withCore(run func(ctx context.Context, cmd *cobra.Command, core *app.Core, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
			log.SetLevel(level)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		core, err := app.NewCore(ctx, cfg)
		if err != nil {
			return err
		}
		defer core.Close()
		return run(ctx, cmd, core, args)
	}
}

func main() {
	log.SetOutput(os.Stderr)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		os.Exit(1)
	}
}
