package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Addr                      string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetTimeoutDelta time.Duration
		ShutdownTimeout           time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Host          string
		Port          string
		DisableTLS    bool
	}

	QueueConfig struct {
		URL          string // amqp broker; empty -> in-process queue
		MaxAttempts  int
		RetryBackoff time.Duration
	}

	BillingConfig struct {
		Currency             string
		ChargeChunkSize      int
		MaxSessionHours      int
		ReferralRewardAmount string // decimal, major units
		ReferralThreshold    int    // cumulative accepted hours
	}

	Config struct {
		Env      string
		Debug    bool
		TestMode bool
		AppName  string
		Build    string

		SecretKey        string
		WorkDir          string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		TimeZone         *time.Location

		SendgridAPIKey     string
		StripeAPIKey       string
		RollbarToken       string
		GoogleClientID     string
		GoogleClientSecret string
		GoogleRedirectURL  string

		Server   ServerConfig
		Database DatabaseConfig
		Queue    QueueConfig
		Billing  BillingConfig
	}
)

func (c DatabaseConfig) Address() string {
	return c.Host + ":" + c.Port
}

// NewConfig loads configuration from the environment, with an optional
// config/.env.<env> file loaded first. All components receive it explicitly.
func NewConfig() (*Config, error) {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	v.SetDefault("debug", true)
	v.SetDefault("appName", "ClassHour")
	v.SetDefault("build", "dev")
	v.SetDefault("secretKey", "x6m$_8yu25q+a#%vhcp)k^dwz@34f&tghj9s7n0!eril1bo2c5")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@classhour.local")
	v.SetDefault("timeZone", "UTC")

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddr", ":8000")
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("shutdownTimeout", 20*time.Second)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbName", "classhour")
	v.SetDefault("dbUser", "classhour")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("queueURL", "")
	v.SetDefault("queueMaxAttempts", 5)
	v.SetDefault("queueRetryBackoff", 2*time.Second)

	v.SetDefault("currency", "usd")
	v.SetDefault("chargeChunkSize", 10)
	v.SetDefault("maxSessionHours", 10)
	v.SetDefault("referralRewardAmount", "25.00")
	v.SetDefault("referralThreshold", 4)

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)

	wd := getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}
	v.AutomaticEnv()

	loc, err := time.LoadLocation(v.GetString("timeZone"))
	if err != nil {
		return nil, errors.Wrap(err, "loading time zone")
	}

	conf := &Config{
		Env:      env,
		Debug:    v.GetBool("debug"),
		TestMode: env == "TEST",
		AppName:  v.GetString("appName"),
		Build:    v.GetString("build"),

		SecretKey:        v.GetString("secretKey"),
		WorkDir:          wd,
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		DefaultFromEmail: mail.Address{Name: v.GetString("appName"), Address: v.GetString("defaultFromEmail")},
		TimeZone:         loc,

		SendgridAPIKey:     v.GetString("sendgridApiKey"),
		StripeAPIKey:       v.GetString("stripeApiKey"),
		RollbarToken:       v.GetString("rollbarToken"),
		GoogleClientID:     v.GetString("googleClientId"),
		GoogleClientSecret: v.GetString("googleClientSecret"),
		GoogleRedirectURL:  v.GetString("googleRedirectUrl"),

		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			Addr:                      v.GetString("serverAddr"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
			ShutdownTimeout:           v.GetDuration("shutdownTimeout"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Queue: QueueConfig{
			URL:          v.GetString("queueURL"),
			MaxAttempts:  v.GetInt("queueMaxAttempts"),
			RetryBackoff: v.GetDuration("queueRetryBackoff"),
		},
		Billing: BillingConfig{
			Currency:             v.GetString("currency"),
			ChargeChunkSize:      v.GetInt("chargeChunkSize"),
			MaxSessionHours:      v.GetInt("maxSessionHours"),
			ReferralRewardAmount: v.GetString("referralRewardAmount"),
			ReferralThreshold:    v.GetInt("referralThreshold"),
		},
	}
	return conf, nil
}

// getwd walks up from the current directory looking for go.mod so that config
// and template paths resolve the same way under `go test`.
// see: https://stackoverflow.com/questions/23847003/golang-tests-and-working-directory
func getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	currDir := wd
	for {
		if _, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == string(os.PathSeparator) || newDir == currDir {
			return wd
		}
		currDir = newDir
	}
}
