// The worker consumes background tasks from the broker: outbound email,
// invoice and payout batches, referral credits and calendar syncs. It shares
// its handler set with the API so an in-process queue behaves identically.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/classhour/backend/apps/tasks"
	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/billing"
	"github.com/classhour/backend/core/hours"
	"github.com/classhour/backend/core/referral"
	"github.com/classhour/backend/core/schedule"
	"github.com/classhour/backend/core/user"
	calendarsvc "github.com/classhour/backend/services/calendar"
	emailsvc "github.com/classhour/backend/services/email"
	logsvc "github.com/classhour/backend/services/logger"
	paymentsvc "github.com/classhour/backend/services/payment"
	queuesvc "github.com/classhour/backend/services/queue"
	"github.com/classhour/backend/storage/database"
	sqlxrepos "github.com/classhour/backend/storage/database/sqlx"
)

func main() {
	std := log.New(os.Stdout, "WORKER : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	if err := run(std); err != nil {
		std.Fatalf("%+v", err)
	}
}

func run(std *log.Logger) error {
	conf, err := core.NewConfig()
	if err != nil {
		return err
	}
	if conf.Queue.URL == "" {
		return errors.New("QUEUEURL must be set: the worker needs a broker to consume from")
	}

	var logger core.Logger
	if conf.Debug {
		logger = logsvc.NewStdLogger(std)
	} else {
		logger = logsvc.NewRollbarLogger(std, conf)
	}

	db, err := database.Open(conf)
	if err != nil {
		return err
	}
	defer db.Close()

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	paySvc := paymentsvc.NewStripeService(conf, logger)
	calSvc := calendarsvc.NewGoogleService(conf, logger)

	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc, conf)
	hourSvc := hours.NewService(sqlxrepos.NewHourRepository(db), usrSvc, conf)
	billingSvc := billing.NewService(sqlxrepos.NewBillingRepository(db), usrSvc, paySvc, conf, logger)
	referralSvc := referral.NewService(sqlxrepos.NewReferralRepository(db), hourSvc, usrSvc, paySvc, conf, logger)
	scheduleSvc := schedule.NewService(sqlxrepos.NewScheduleRepository(db), usrSvc, calSvc, conf, logger)

	registry := tasks.NewRegistry(tasks.Deps{
		Conf:        conf,
		Logger:      logger,
		MailSvc:     mailSvc,
		UserSvc:     usrSvc,
		BillingSvc:  billingSvc,
		ReferralSvc: referralSvc,
		ScheduleSvc: scheduleSvc,
	})

	queue, err := queuesvc.NewRabbitMQQueue(registry, conf, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		logger.Info("caught signal " + sig.String() + ", shutting down")
		cancel()
	}()

	logger.Info("worker consuming from " + conf.Queue.URL)
	if err = queue.Consume(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
