package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, 0.5, cfg.Discount.Probability)
	assert.Equal(t, 0.15, cfg.Discount.Rate)
	assert.Equal(t, "STUDENT_DISCOUNT_15", cfg.Discount.ReasonCode)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 5, cfg.Outbox.MaxRetries)
	assert.Equal(t, 7*24*time.Hour, cfg.Outbox.Retention)
	assert.False(t, cfg.Kafka.Enabled())
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Admin.ResetEnabled)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.True(t, cfg.IsDevelopment())
}

func TestParse_FromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("DISCOUNT_PROBABILITY", "1")
	t.Setenv("IDEMPOTENCY_TTL", "1h")
	t.Setenv("APP_ENV", "production")

	cfg, err := parse()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMySQL, cfg.Store.Driver)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 1.0, cfg.Discount.Probability)
	assert.Equal(t, time.Hour, cfg.Idempotency.TTL)
	assert.True(t, cfg.IsProduction())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"неизвестный драйвер", map[string]string{"STORE_DRIVER": "postgres"}, true},
		{"вероятность больше 1", map[string]string{"DISCOUNT_PROBABILITY": "1.5"}, true},
		{"отрицательная вероятность", map[string]string{"DISCOUNT_PROBABILITY": "-0.1"}, true},
		{"скидка 100%", map[string]string{"DISCOUNT_RATE": "1"}, true},
		{"нулевая скидка допустима", map[string]string{"DISCOUNT_RATE": "0"}, false},
		{"пустой batch outbox", map[string]string{"OUTBOX_BATCH_SIZE": "0"}, true},
		{"нулевой OUTBOX_MAX_RETRIES", map[string]string{"OUTBOX_MAX_RETRIES": "0"}, true},
		{"один retry допустим", map[string]string{"OUTBOX_MAX_RETRIES": "1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := parse()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Run("значения из файла", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		content := "STORE_DRIVER=mysql\nOUTBOX_MAX_RETRIES=3\nDISCOUNT_RATE=0.2\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		// godotenv пишет в окружение процесса, t.Setenv вернёт прежние значения
		for _, k := range []string{"STORE_DRIVER", "OUTBOX_MAX_RETRIES", "DISCOUNT_RATE"} {
			t.Setenv(k, "")
			require.NoError(t, os.Unsetenv(k))
		}

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)

		assert.Equal(t, StoreDriverMySQL, cfg.Store.Driver)
		assert.Equal(t, 3, cfg.Outbox.MaxRetries)
		assert.Equal(t, 0.2, cfg.Discount.Rate)
	})

	t.Run("файл не найден", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.env"))
		assert.Error(t, err)
	})

	t.Run("некорректное значение в файле", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("OUTBOX_MAX_RETRIES=0\n"), 0o600))
		t.Setenv("OUTBOX_MAX_RETRIES", "")
		require.NoError(t, os.Unsetenv("OUTBOX_MAX_RETRIES"))

		_, err := LoadFromFile(path)
		assert.Error(t, err)
	})
}

func TestMySQLConfig_DSN(t *testing.T) {
	cfg := MySQLConfig{Host: "db", Port: 3306, User: "svpay", Password: "secret", Database: "svpay"}

	assert.Equal(t, "svpay:secret@tcp(db:3306)/svpay?charset=utf8mb4&parseTime=True&loc=Local", cfg.DSN())
}
