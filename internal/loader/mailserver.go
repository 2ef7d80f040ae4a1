package loader

import (
	"context"
	"fmt"
	"net/mail"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/JonMunkholm/provision/internal/core"
	"github.com/JonMunkholm/provision/internal/erp"
	"github.com/JonMunkholm/provision/internal/logging"
)

const (
	collMailServer  = "ir.mail_server"
	collFetchmail   = "fetchmail.server"
	collConfigParam = "ir.config_parameter"
)

// envRef matches ${NAME} and ${NAME:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

var hostPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.-]*[A-Za-z0-9])?$`)

func init() {
	core.Register(core.StepDefinition{
		Info: core.StepInfo{
			Name:   "mailserver",
			Group:  "mail",
			Label:  "Mail servers and parameters",
			Order:  35,
			Weight: 1,
		},
		New: func(env core.Env) (core.Loader, error) { return &mailLoader{base: newBase(env, "mailserver")}, nil },
	})
}

// mailLoader reconciles the configured outgoing and incoming mail servers
// by name and the mail parameters by key. Passwords are written but never
// logged or audited.
type mailLoader struct {
	base
}

func (l *mailLoader) Run(ctx context.Context) (*core.Result, error) {
	l.begin(ctx)
	cfg := l.env.Defaults.Mail
	if len(cfg.Servers) == 0 && len(cfg.Parameters) == 0 {
		logging.FromContext(ctx).Info("no mail configuration")
		return l.finish(ctx)
	}

	for _, srv := range cfg.Servers {
		l.server(ctx, srv)
	}

	keys := make([]string, 0, len(cfg.Parameters))
	for k := range cfg.Parameters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, key := range keys {
		l.parameter(ctx, key, cfg.Parameters[key])
	}

	return l.finish(ctx)
}

func (l *mailLoader) server(ctx context.Context, srv core.MailServerDefaults) {
	s := subject{collection: collMailServer, key: srv.Name, counter: "smtp_servers"}
	if srv.Type == "imap" {
		s.collection, s.counter = collFetchmail, "imap_servers"
	}

	resolved, missing := resolveServer(srv)
	if len(missing) > 0 {
		l.skip(ctx, tagUnresolved, s, "environment variable not set: "+strings.Join(missing, ", "))
		return
	}
	if err := validateServer(resolved); err != nil {
		l.skip(ctx, tagInvalidMail, s, err.Error())
		return
	}

	values := serverValues(resolved)
	l.ensure(ctx, s, erp.Domain{erp.Eq("name", erp.String(resolved.Name))}, values, values.Clone())
}

func (l *mailLoader) parameter(ctx context.Context, key, raw string) {
	s := subject{collection: collConfigParam, key: key, counter: "parameters"}
	value, missing := expandEnv(raw)
	if len(missing) > 0 {
		l.skip(ctx, tagUnresolved, s, "environment variable not set: "+strings.Join(missing, ", "))
		return
	}
	create := erp.NewValues().
		Set("key", erp.String(key)).
		Set("value", erp.String(value))
	update := erp.NewValues().Set("value", erp.String(value))
	l.ensure(ctx, s, erp.Domain{erp.Eq("key", erp.String(key))}, create, update)
}

// serverValues maps a resolved server onto the fields of its model.
func serverValues(srv core.MailServerDefaults) *erp.Values {
	active := srv.Active == nil || *srv.Active
	if srv.Type == "imap" {
		ssl := srv.SSL == nil || *srv.SSL
		return erp.NewValues().
			Set("name", erp.String(srv.Name)).
			Set("server_type", erp.String("imap")).
			Set("server", erp.String(srv.Host)).
			Set("port", erp.Int(int64(srv.Port))).
			Set("is_ssl", erp.Bool(ssl)).
			Set("user", erp.String(srv.User)).
			Set("password", erp.OptString(srv.Password)).
			Set("priority", optInt(srv.Priority)).
			Set("active", erp.Bool(active))
	}
	encryption := srv.Encryption
	if encryption == "" {
		encryption = "starttls"
	}
	return erp.NewValues().
		Set("name", erp.String(srv.Name)).
		Set("smtp_host", erp.String(srv.Host)).
		Set("smtp_port", erp.Int(int64(srv.Port))).
		Set("smtp_encryption", erp.String(encryption)).
		Set("smtp_authentication", erp.String("login")).
		Set("smtp_user", erp.String(srv.User)).
		Set("smtp_pass", erp.OptString(srv.Password)).
		Set("from_filter", erp.OptString(srv.From)).
		Set("sequence", optInt(srv.Sequence)).
		Set("active", erp.Bool(active))
}

func optInt(n int) erp.Value {
	if n == 0 {
		return erp.Absent()
	}
	return erp.Int(int64(n))
}

// resolveServer expands environment references in every text field and
// reports the variables that are not set.
func resolveServer(srv core.MailServerDefaults) (core.MailServerDefaults, []string) {
	var missing []string
	for _, f := range []*string{&srv.Name, &srv.Host, &srv.Encryption, &srv.User, &srv.Password, &srv.From} {
		v, m := expandEnv(*f)
		*f = strings.TrimSpace(v)
		missing = append(missing, m...)
	}
	return srv, missing
}

// expandEnv replaces ${NAME} with the variable's value, or with the
// fallback of ${NAME:-fallback} when it is unset or empty. Unset variables
// without fallback are returned as missing.
func expandEnv(s string) (string, []string) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		if strings.Contains(ref, ":-") {
			return m[2]
		}
		missing = append(missing, m[1])
		return ""
	})
	return out, missing
}

func validateServer(srv core.MailServerDefaults) error {
	if len(srv.Host) < 3 || !hostPattern.MatchString(srv.Host) {
		return fmt.Errorf("invalid host %q", srv.Host)
	}
	if srv.Port < 1 || srv.Port > 65535 {
		return fmt.Errorf("port out of range: %d", srv.Port)
	}
	if srv.User == "" {
		return fmt.Errorf("%s server %q: user required", srv.Type, srv.Name)
	}
	if srv.Type == "smtp" {
		switch srv.Encryption {
		case "", "none", "starttls", "ssl":
		default:
			return fmt.Errorf("unknown encryption %q", srv.Encryption)
		}
	}
	if srv.From != "" {
		if _, err := mail.ParseAddress(srv.From); err != nil {
			return fmt.Errorf("invalid sender %q: %w", srv.From, err)
		}
	}
	return nil
}
