// Package config loads client settings from defaults, optional dotenv files
// and LMS_* environment variables.
package config

import (
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "LMS"

type Config struct {
	APIURL            string        `mapstructure:"api_url" validate:"required,url"`
	SocketURL         string        `mapstructure:"socket_url" validate:"required,url"`
	DBPath            string        `mapstructure:"db_path"`
	StorageKey        string        `mapstructure:"storage_key"`
	RollbarToken      string        `mapstructure:"rollbar_token"`
	Env               string        `mapstructure:"env" validate:"required"`
	NotificationLimit int           `mapstructure:"notification_limit" validate:"min=1"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ReconnectBase     time.Duration `mapstructure:"reconnect_base" validate:"gt=0"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_max" validate:"gtefield=ReconnectBase"`
	InitialRoom       string        `mapstructure:"initial_room"`
	Prompt            string        `mapstructure:"prompt" validate:"required"`
}

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// report config keys, not Go field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("mapstructure")
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", "http://localhost:5000/api")
	v.SetDefault("socket_url", "ws://localhost:5000/ws")
	v.SetDefault("db_path", "")
	v.SetDefault("storage_key", "")
	v.SetDefault("rollbar_token", "")
	v.SetDefault("env", "dev")
	v.SetDefault("notification_limit", 20)
	v.SetDefault("request_timeout", 15*time.Second)
	v.SetDefault("reconnect_base", 500*time.Millisecond)
	v.SetDefault("reconnect_max", 30*time.Second)
	v.SetDefault("initial_room", "")
	v.SetDefault("prompt", "[{{channel.name}}] {{user.name}} ({{unread}})> ")
}

// Load reads settings with dotenv files looked up in the working directory.
func Load() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "config.Getwd")
	}
	return LoadFrom(wd)
}

// LoadFrom reads settings with dotenv files looked up in dir. Variables
// already present in the environment win over dotenv values.
func LoadFrom(dir string) (*Config, error) {
	env := strings.ToLower(os.Getenv(envPrefix + "_ENV"))
	if env == "" {
		env = "dev"
	}

	// .env.<env> first: godotenv never overrides a variable already set
	for _, name := range []string{".env." + env, ".env"} {
		if err := loadDotEnv(filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, errors.Wrap(err, "config.Unmarshal")
	}
	conf.APIURL = strings.TrimRight(conf.APIURL, "/")

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "config.Stat(%s)", path)
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "config.godotenv(%s)", path)
	}
	log.Printf("[APP] Loaded %s", path)
	return nil
}

// Validate checks the settings and joins every problem into one error.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, "config.Validate")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(translator))
	}
	sort.Strings(msgs)
	return errors.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
