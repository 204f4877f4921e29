package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"order-messenger/internal/orders"
	"order-messenger/internal/template"
)

type Config struct {
	// Server
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	// Admin auth. Bcrypt hash of the admin API key; empty disables the
	// protected routes entirely.
	AdminAPIKeyHash string `envconfig:"ADMIN_API_KEY_HASH"`

	// Order book
	SpreadsheetID         string `envconfig:"SPREADSHEET_ID"`
	SheetRange            string `envconfig:"SHEET_RANGE" default:"Orders!A2:I"`
	GoogleAPIKey          string `envconfig:"GOOGLE_API_KEY"`
	GoogleCredentialsFile string `envconfig:"GOOGLE_CREDENTIALS_FILE"`

	// Chat transport sidecar
	TransportURL string `envconfig:"TRANSPORT_URL" default:"http://localhost:3000"`

	// Redis (optional; the guard falls back to the local file alone)
	RedisURL string `envconfig:"REDIS_URL"`

	// NATS (optional; the queue falls back in-process)
	NATSURL string `envconfig:"NATS_URL" default:"nats://localhost:4222"`

	// Engine timing
	AutoStart          bool          `envconfig:"AUTO_START" default:"true"`
	CheckInterval      time.Duration `envconfig:"CHECK_INTERVAL" default:"30s"`
	InitialDelay       time.Duration `envconfig:"INITIAL_DELAY" default:"5s"`
	FailureRetryDelay  time.Duration `envconfig:"FAILURE_RETRY_DELAY" default:"60s"`
	ReminderDelay      time.Duration `envconfig:"REMINDER_DELAY" default:"24h"`
	RejectedOfferDelay time.Duration `envconfig:"REJECTED_OFFER_DELAY" default:"24h"`

	// Message classes
	NewOrderEnabled      bool    `envconfig:"NEW_ORDER_ENABLED" default:"true"`
	NoAnswerEnabled      bool    `envconfig:"NO_ANSWER_ENABLED" default:"true"`
	ShippedEnabled       bool    `envconfig:"SHIPPED_ENABLED" default:"true"`
	RejectedOfferEnabled bool    `envconfig:"REJECTED_OFFER_ENABLED" default:"true"`
	RemindersEnabled     bool    `envconfig:"REMINDERS_ENABLED" default:"true"`
	DiscountRate         float64 `envconfig:"DISCOUNT_RATE" default:"0.2"`

	// Durable sent-key file
	SentFilePath string `envconfig:"SENT_FILE_PATH" default:"./config/sent-messages.json"`

	// Message content
	CompanyName           string `envconfig:"COMPANY_NAME" default:"متجرنا"`
	TemplateNewOrder      string `envconfig:"TEMPLATE_NEW_ORDER" default:"مرحباً {name}، تم استلام طلبك رقم {orderId} ({productName}) بمبلغ {amount} جنيه. سنتواصل معك قريباً لتأكيد الطلب. شكراً لثقتك في {companyName}."`
	TemplateNoAnswer      string `envconfig:"TEMPLATE_NO_ANSWER" default:"عزيزي {name}، حاولنا الاتصال بك بخصوص طلبك رقم {orderId} دون رد. برجاء الرد على هذه الرسالة لتأكيد الطلب."`
	TemplateShipped       string `envconfig:"TEMPLATE_SHIPPED" default:"عزيزي {name}، تم شحن طلبك رقم {orderId}. رقم التتبع: {trackingNumber}. سيصلك خلال أيام قليلة."`
	TemplateRejectedOffer string `envconfig:"TEMPLATE_REJECTED_OFFER" default:"عزيزي {name}، نأسف لعدم إتمام طلبك رقم {orderId}. عرض خاص: بدلاً من {amount} جنيه ادفع {discountedAmount} جنيه فقط ووفر {savedAmount} جنيه. العرض ساري لفترة محدودة من {companyName}."`
	TemplateReminder      string `envconfig:"TEMPLATE_REMINDER" default:"تذكير: عزيزي {name}، طلبك رقم {orderId} ({productName}) ما زال في انتظار التأكيد. برجاء الرد لإتمام الشحن."`

	// Observability
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Templates assembles the per-type template set. Called once per engine
// cycle so operator overrides picked up at startup apply everywhere.
func (c *Config) Templates() template.Set {
	return template.Set{
		NewOrder:      c.TemplateNewOrder,
		NoAnswer:      c.TemplateNoAnswer,
		Shipped:       c.TemplateShipped,
		RejectedOffer: c.TemplateRejectedOffer,
		Reminder:      c.TemplateReminder,
	}
}

// Enabled reports whether a message class is allowed to fire.
func (c *Config) Enabled(t orders.MessageType) bool {
	switch t {
	case orders.TypeNewOrder:
		return c.NewOrderEnabled
	case orders.TypeNoAnswer:
		return c.NoAnswerEnabled
	case orders.TypeShipped:
		return c.ShippedEnabled
	case orders.TypeRejectedOffer:
		return c.RejectedOfferEnabled
	case orders.TypeReminder:
		return c.RemindersEnabled
	}
	return false
}
