package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/classhour/backend/apps/api/echo"
	"github.com/classhour/backend/apps/tasks"
	"github.com/classhour/backend/core"
	"github.com/classhour/backend/core/billing"
	"github.com/classhour/backend/core/complaint"
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
	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	if err := run(std); err != nil {
		std.Fatalf("%+v", err)
	}
}

func run(std *log.Logger) error {
	conf, err := core.NewConfig()
	if err != nil {
		return err
	}

	var logger core.Logger
	if conf.Debug {
		logger = logsvc.NewStdLogger(std)
	} else {
		logger = logsvc.NewRollbarLogger(std, conf)
	}

	validate, translator := core.NewValidator()
	user.RegisterValidators(validate, translator)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		return err
	}
	defer db.Close()
	if err = database.Migrate(db); err != nil {
		return err
	}

	usrRepo := sqlxrepos.NewUserRepository(db)
	hourRepo := sqlxrepos.NewHourRepository(db)
	billingRepo := sqlxrepos.NewBillingRepository(db)
	referralRepo := sqlxrepos.NewReferralRepository(db)
	complaintRepo := sqlxrepos.NewComplaintRepository(db)
	scheduleRepo := sqlxrepos.NewScheduleRepository(db)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	paySvc := paymentsvc.NewStripeService(conf, logger)
	calSvc := calendarsvc.NewGoogleService(conf, logger)

	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	hourSvc := hours.NewService(hourRepo, usrSvc, conf)
	billingSvc := billing.NewService(billingRepo, usrSvc, paySvc, conf, logger)
	referralSvc := referral.NewService(referralRepo, hourSvc, usrSvc, paySvc, conf, logger)
	complaintSvc := complaint.NewService(complaintRepo, usrSvc, mailSvc, conf)
	scheduleSvc := schedule.NewService(scheduleRepo, usrSvc, calSvc, conf, logger)

	// set up background tasks; without a broker URL they run in-process
	taskDeps := tasks.Deps{
		Conf:        conf,
		Logger:      logger,
		MailSvc:     mailSvc,
		UserSvc:     usrSvc,
		BillingSvc:  billingSvc,
		ReferralSvc: referralSvc,
		ScheduleSvc: scheduleSvc,
	}
	registry := tasks.NewRegistry(taskDeps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var queue core.TaskQueue
	if conf.Queue.URL != "" {
		rq, err := queuesvc.NewRabbitMQQueue(registry, conf, logger)
		if err != nil {
			return err
		}
		defer rq.Close()
		queue = rq
	} else {
		ipq := queuesvc.NewInProcQueue(registry, conf, logger)
		ipq.Start(ctx)
		defer ipq.Shutdown()
		queue = ipq
	}

	dispatcher := core.NewEventDispatcher(logger)
	tasks.SubscribeEvents(taskDeps, dispatcher, queue)

	// start API server
	app := echoapi.NewServer(&echoapi.Options{
		Addr:       conf.Server.Addr,
		Conf:       conf,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,

		UserSvc:      usrSvc,
		HourSvc:      hourSvc,
		BillingSvc:   billingSvc,
		ReferralSvc:  referralSvc,
		ComplaintSvc: complaintSvc,
		ScheduleSvc:  scheduleSvc,

		PaySvc:     paySvc,
		Queue:      queue,
		Dispatcher: dispatcher,
	})

	serverErrs := make(chan error, 1)
	go func() {
		logger.Info("server listening on " + conf.Server.Addr)
		serverErrs <- app.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrs:
		return err
	case <-app.ShutdownSignal():
		logger.Warn("unrecoverable error, shutting down")
	case sig := <-shutdown:
		logger.Info("caught signal " + sig.String() + ", shutting down")
	}

	sctx, scancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer scancel()
	return app.Stop(sctx)
}
