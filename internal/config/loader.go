package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tgdrive/qdrop/internal/duration"
)

const EnvPrefix = "QDROP_"

type Loader struct {
	k        *koanf.Koanf
	defaults map[string]any
	// flag name by config key
	flags map[string]string
	cfg   any
}

func NewConfigLoader() *Loader {
	return &Loader{
		k:        koanf.New("."),
		defaults: make(map[string]any),
		flags:    make(map[string]string),
	}
}

// confMap serves a flat key map as a koanf provider.
type confMap map[string]any

func (c confMap) ReadBytes() ([]byte, error) {
	return nil, errors.New("confmap provider does not support ReadBytes")
}

func (c confMap) Read() (map[string]any, error) {
	cp := make(map[string]any, len(c))
	for k, v := range c {
		cp[k] = v
	}
	return maps.Unflatten(cp, "."), nil
}

// RegisterFlags walks cfg and records a default for every koanf-tagged
// field. Unless skipFlags is set each field also gets a flag named after
// its key with dots turned into dashes.
func (l *Loader) RegisterFlags(flags *pflag.FlagSet, prefix string, cfg any, skipFlags bool) error {
	if prefix == "" && flags.Lookup("config") == nil {
		flags.StringP("config", "c", "", "Config file path (default $HOME/.qdrop/config.toml)")
	}
	t := reflect.TypeOf(cfg)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return errors.Errorf("config: expected struct, got %s", t.Kind())
	}
	return l.register(flags, prefix, t, skipFlags)
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	byteSizeType = reflect.TypeOf(ByteSize(0))
)

func (l *Loader) register(flags *pflag.FlagSet, prefix string, t reflect.Type, skipFlags bool) error {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("koanf")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct && field.Type != durationType {
			if err := l.register(flags, key, field.Type, skipFlags); err != nil {
				return err
			}
			continue
		}

		def, hasDefault := field.Tag.Lookup("default")
		usage := field.Tag.Get("description")
		name := strings.ReplaceAll(key, ".", "-")

		value, err := parseDefault(field.Type, def, hasDefault)
		if err != nil {
			return errors.Wrapf(err, "config: default for %s", key)
		}
		if hasDefault {
			l.defaults[key] = value
		}
		l.flags[key] = name
		if skipFlags || flags.Lookup(name) != nil {
			continue
		}

		switch {
		case field.Type == durationType:
			duration.Var(flags, new(time.Duration), name, value.(time.Duration), usage)
		case field.Type == byteSizeType:
			b := value.(ByteSize)
			flags.Var(&b, name, usage)
		default:
			switch field.Type.Kind() {
			case reflect.String:
				flags.String(name, value.(string), usage)
			case reflect.Bool:
				flags.Bool(name, value.(bool), usage)
			case reflect.Int:
				flags.Int(name, value.(int), usage)
			case reflect.Int64:
				flags.Int64(name, value.(int64), usage)
			case reflect.Float64:
				flags.Float64(name, value.(float64), usage)
			case reflect.Slice:
				flags.StringSlice(name, value.([]string), usage)
			default:
				return errors.Errorf("config: unsupported type %s for %s", field.Type, key)
			}
		}
	}
	return nil
}

func parseDefault(t reflect.Type, def string, ok bool) (any, error) {
	switch {
	case t == durationType:
		if !ok {
			return time.Duration(0), nil
		}
		return duration.Parse(def)
	case t == byteSizeType:
		if !ok {
			return ByteSize(0), nil
		}
		v, err := units.RAMInBytes(def)
		return ByteSize(v), err
	}
	switch t.Kind() {
	case reflect.String:
		return def, nil
	case reflect.Bool:
		if !ok {
			return false, nil
		}
		return strconv.ParseBool(def)
	case reflect.Int:
		if !ok {
			return 0, nil
		}
		return strconv.Atoi(def)
	case reflect.Int64:
		if !ok {
			return int64(0), nil
		}
		return strconv.ParseInt(def, 10, 64)
	case reflect.Float64:
		if !ok {
			return float64(0), nil
		}
		return strconv.ParseFloat(def, 64)
	case reflect.Slice:
		if !ok || def == "" {
			return []string{}, nil
		}
		return strings.Split(def, ","), nil
	}
	return nil, errors.Errorf("unsupported type %s", t)
}

// Load layers defaults, the config file, QDROP_ environment variables and
// explicitly set flags, in that order, and decodes the result into cfg.
func (l *Loader) Load(cmd *cobra.Command, cfg any) error {
	l.k = koanf.New(".")
	if err := l.k.Load(confMap(l.defaults), nil); err != nil {
		return errors.Wrap(err, "load defaults")
	}

	path, err := l.configFile(cmd.Flags())
	if err != nil {
		return err
	}
	if path != "" {
		var parser koanf.Parser = toml.Parser()
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		}
		if err := l.k.Load(file.Provider(path), parser); err != nil {
			return errors.Wrapf(err, "read config file %s", path)
		}
	}

	if err := l.k.Load(env.Provider(EnvPrefix, ".", l.envKey), nil); err != nil {
		return errors.Wrap(err, "load env")
	}

	var flagErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		key, ok := l.keyForFlag(f.Name)
		if !ok {
			return
		}
		var v any = f.Value.String()
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			v = sv.GetSlice()
		}
		if err := l.k.Set(key, v); err != nil && flagErr == nil {
			flagErr = errors.Wrapf(err, "flag %s", f.Name)
		}
	})
	if flagErr != nil {
		return flagErr
	}

	dc := &mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			StringToDurationHook(),
			StringToByteSizeHook(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		TagName:          "koanf",
		Result:           cfg,
	}
	if err := l.k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf", DecoderConfig: dc}); err != nil {
		return errors.Wrap(err, "decode config")
	}
	l.cfg = cfg
	return nil
}

func (l *Loader) configFile(flags *pflag.FlagSet) (string, error) {
	if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
		path := f.Value.String()
		if _, err := os.Stat(path); err != nil {
			return "", errors.Wrap(err, "config file")
		}
		return path, nil
	}
	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".qdrop"))
	}
	dirs = append(dirs, ".")
	for _, dir := range dirs {
		for _, name := range []string{"config.toml", "config.yaml", "config.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}
	return "", nil
}

// envKey maps QDROP_SHARE_MAX_SIZE to share.max-size. Unknown variables
// are dropped.
func (l *Loader) envKey(name string) string {
	want := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	for key := range l.flags {
		if envName(key) == want {
			return key
		}
	}
	return ""
}

func envName(key string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(key)
}

func (l *Loader) keyForFlag(name string) (string, bool) {
	for key, flag := range l.flags {
		if flag == name {
			return key, true
		}
	}
	return "", false
}

// Keys lists every registered config key with its environment variable.
func (l *Loader) Keys() map[string]string {
	out := make(map[string]string, len(l.flags))
	for key := range l.flags {
		out[key] = EnvPrefix + strings.ToUpper(envName(key))
	}
	return out
}

// Validate checks the last loaded config against its validate tags.
func (l *Loader) Validate() error {
	if l.cfg == nil {
		return errors.New("config not loaded")
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := f.Tag.Get("koanf")
		if name == "-" {
			return ""
		}
		return name
	})

	err := v.Struct(l.cfg)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	var missing, invalid []string
	for _, fe := range verrs {
		key := fe.Namespace()
		if i := strings.IndexByte(key, '.'); i >= 0 {
			key = key[i+1:]
		}
		if strings.HasPrefix(fe.Tag(), "required") {
			missing = append(missing, key)
			continue
		}
		invalid = append(invalid, fmt.Sprintf("%s (%s=%s, got %v)", key, fe.Tag(), fe.Param(), fe.Value()))
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "required configuration values not set: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid configuration values: "+strings.Join(invalid, ", "))
	}
	return errors.New(strings.Join(parts, "; "))
}

func StringToDurationHook() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != durationType {
			return data, nil
		}
		return duration.Parse(data.(string))
	}
}

func StringToByteSizeHook() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != byteSizeType {
			return data, nil
		}
		v, err := units.RAMInBytes(data.(string))
		if err != nil {
			return nil, err
		}
		return ByteSize(v), nil
	}
}
