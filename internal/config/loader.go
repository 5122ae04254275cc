package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/sqmreport/sqmreport/internal/report"
)

// ErrMisconfiguration matches every MisconfigurationError.
var ErrMisconfiguration = errors.New("misconfiguration")

// MisconfigurationError lists every setting that is missing or invalid.
type MisconfigurationError struct {
	variables []string
	errs      *multierror.Error
}

// Error implements error.
func (e *MisconfigurationError) Error() string {
	return fmt.Sprintf("%s: %d setting(s) invalid: %s",
		ErrMisconfiguration, len(e.errs.Errors), strings.Join(e.messages(), "; "))
}

// Unwrap returns the individual problems.
func (e *MisconfigurationError) Unwrap() error {
	return e.errs.ErrorOrNil()
}

// Is reports whether target is ErrMisconfiguration.
func (e *MisconfigurationError) Is(target error) bool {
	return target == ErrMisconfiguration
}

// Variables returns the offending environment variable names, sorted.
func (e *MisconfigurationError) Variables() []string {
	out := make([]string, len(e.variables))
	copy(out, e.variables)
	sort.Strings(out)
	return out
}

func (e *MisconfigurationError) messages() []string {
	msgs := make([]string, 0, len(e.errs.Errors))
	for _, err := range e.errs.Errors {
		msgs = append(msgs, err.Error())
	}
	return msgs
}

func (e *MisconfigurationError) add(variable string, err error) {
	e.variables = append(e.variables, variable)
	e.errs = multierror.Append(e.errs, err)
}

func (e *MisconfigurationError) orNil() error {
	if e.errs == nil || len(e.errs.Errors) == 0 {
		return nil
	}
	return e
}

// Load reads configuration from a .env file, if present, and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	problems := &MisconfigurationError{}

	if err := envconfig.Process("", &cfg); err != nil {
		var parseErr *envconfig.ParseError
		if errors.As(err, &parseErr) {
			problems.add(parseErr.KeyName, fmt.Errorf("%s: cannot parse %q as %s", parseErr.KeyName, parseErr.Value, parseErr.TypeName))
		} else {
			problems.add("", err)
		}
		return nil, problems
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("envconfig"); name != "" {
			return name
		}
		return fld.Name
	})

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			problems.add("", err)
			return nil, problems
		}
		for _, fe := range fieldErrs {
			problems.add(fe.Field(), describe(fe))
		}
	}

	loc, err := time.LoadLocation(cfg.Store.Timezone)
	if err != nil {
		problems.add("STORE_TIMEZONE", fmt.Errorf("STORE_TIMEZONE: unknown timezone %q", cfg.Store.Timezone))
	}
	cfg.location = loc

	if cfg.Report.CatalogFile == "" {
		if len(cfg.Report.Stations) == 0 {
			problems.add("REPORT_STATIONS", errors.New("REPORT_STATIONS: required unless REPORT_CATALOG_FILE is set"))
		}
		if len(cfg.Report.Variables) == 0 {
			problems.add("REPORT_VARIABLES", errors.New("REPORT_VARIABLES: required unless REPORT_CATALOG_FILE is set"))
		}
	}

	if cfg.Database.MinConns > cfg.Database.MaxConns {
		problems.add("DB_MIN_CONNS", fmt.Errorf("DB_MIN_CONNS: %d exceeds DB_MAX_CONNS %d", cfg.Database.MinConns, cfg.Database.MaxConns))
	}

	if err := problems.orNil(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func describe(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s: required", fe.Field())
	case "oneof":
		return fmt.Errorf("%s: must be one of [%s], got %q", fe.Field(), fe.Param(), fmt.Sprint(fe.Value()))
	default:
		return fmt.Errorf("%s: failed %s=%s validation", fe.Field(), fe.Tag(), fe.Param())
	}
}

// Catalog builds the report catalog from REPORT_CATALOG_FILE, or from the
// cross product of REPORT_STATIONS and REPORT_VARIABLES.
func (c *Config) Catalog() (*report.Catalog, error) {
	if c.Report.CatalogFile != "" {
		return report.LoadCatalogFile(c.Report.CatalogFile)
	}
	return report.CrossCatalog(c.Report.Stations, c.Report.Variables)
}
