package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// AWS holds the credentials and region used by the inventory scan and the
// optional Cost Explorer cross-check. Empty key id falls back to the default
// credential chain.
type AWS struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Actuals         bool
}

// Elastic points at the spend store. Host must include the scheme, e.g.
// https://es-qa.example.com:443.
type Elastic struct {
	Host        string
	Username    string
	Password    string
	IndexPrefix string
}

type Email struct {
	SMTPHost string
	SMTPPort int
	Mailbox  string
	Password string
	To       string
	FromName string
}

type Config struct {
	AWS     AWS
	Elastic Elastic
	Email   Email
}

// Load reads the ini config once at startup. Section and key names follow the
// layout of config.cfg: [aws], [elasticsearch], [email].
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	aws := f.Section("aws")
	es := f.Section("elasticsearch")
	email := f.Section("email")

	cfg := &Config{
		AWS: AWS{
			AccessKeyID:     aws.Key("AWS_ACCESS_KEY_ID").String(),
			SecretAccessKey: aws.Key("AWS_SECRET_ACCESS_KEY").String(),
			Region:          aws.Key("AWS_DEFAULT_REGION").String(),
			Actuals:         aws.Key("ACTUALS").MustBool(false),
		},
		Elastic: Elastic{
			Host:        es.Key("ES_HOST").String(),
			Username:    es.Key("ES_USERNAME").String(),
			Password:    es.Key("ES_PASSWORD").String(),
			IndexPrefix: es.Key("ES_INDEX_PREFIX").MustString("burner"),
		},
		Email: Email{
			SMTPHost: email.Key("SMTP").String(),
			SMTPPort: email.Key("SMTP_PORT").MustInt(587),
			Mailbox:  email.Key("MAILBOX").String(),
			Password: email.Key("PASSWORD").String(),
			To:       email.Key("TO").String(),
			FromName: email.Key("FROM_NAME").MustString("Burner Bot"),
		},
	}

	if cfg.Elastic.Host == "" {
		return nil, fmt.Errorf("config %s: [elasticsearch] ES_HOST is required", path)
	}
	return cfg, nil
}

// Validate checks the keys the collector needs before any AWS call is made.
func (a AWS) Validate() error {
	if a.Region == "" {
		return fmt.Errorf("[aws] AWS_DEFAULT_REGION is required")
	}
	return nil
}

// Validate checks the keys the sender needs before dialing the relay.
func (e Email) Validate() error {
	switch {
	case e.SMTPHost == "":
		return fmt.Errorf("[email] SMTP is required")
	case e.Mailbox == "":
		return fmt.Errorf("[email] MAILBOX is required")
	case e.Password == "":
		return fmt.Errorf("[email] PASSWORD is required")
	case e.To == "":
		return fmt.Errorf("[email] TO is required")
	}
	return nil
}
