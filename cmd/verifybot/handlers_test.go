package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/knadh/smtppool"
	"github.com/knadh/stuffbin"
	"github.com/knadh/verifybot/internal/cache"
	"github.com/knadh/verifybot/internal/discord"
	"github.com/knadh/verifybot/internal/mailq"
	"github.com/knadh/verifybot/internal/store"
	"github.com/knadh/verifybot/internal/store/redis"
	"github.com/knadh/verifybot/internal/verify"
	"github.com/knadh/verifybot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"
)

const (
	dummyUser     = "admin"
	dummyPassword = "mysecret"
	sampleConfig  = "../../static/config.sample.toml"
)

type dummySender struct{}

func (dummySender) Send(smtppool.Email) error {
	return nil
}

var (
	srv  *httptest.Server
	rdis *miniredis.Miniredis
	app  *App
)

func init() {
	// Dummy Redis.
	rd, err := miniredis.Run()
	if err != nil {
		log.Println(err)
	}
	rdis = rd
	port, _ := strconv.Atoi(rd.Port())

	dlo := logf.New(logf.Opts{Writer: io.Discard})

	// Dummy app.
	app = &App{
		lo:    dlo,
		cache: cache.New(),
		queue: mailq.New(dummySender{}, mailq.Opt{Interval: time.Hour}, dlo),
		store: redis.New(redis.Conf{
			Host: rd.Host(),
			Port: port,
		}),
	}

	srv = httptest.NewServer(initHTTP(app, map[string]string{dummyUser: dummyPassword}))
}

func TestHealthCheck(t *testing.T) {
	var out httpResp
	r := testRequest(t, http.MethodGet, "/api/health", false, &out)
	assert.Equal(t, http.StatusOK, r.StatusCode, "non 200 response")
	assert.Equal(t, "OK", out.Data)
}

func TestAuth(t *testing.T) {
	var out httpResp
	r := testRequest(t, http.MethodGet, "/api/stats", false, &out)
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode, "non 401 response without credentials")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/stats", nil)
	require.NoError(t, err)
	req.SetBasicAuth(dummyUser, "wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "non 401 response for bad credentials")
}

func TestGetStats(t *testing.T) {
	app.cache.Put("1", models.PendingVerification{Identity: "z1234567"})
	app.cache.Put("2", models.PendingVerification{Identity: "z7654321"})
	defer app.cache.Remove("1")
	defer app.cache.Remove("2")

	require.NoError(t, app.queue.Enqueue(smtppool.Email{To: []string{"z1234567@ad.unsw.edu.au"}}))
	defer app.queue.Flush(context.Background())

	var (
		data = &statsResp{}
		out  = httpResp{Data: data}
	)
	r := testRequest(t, http.MethodGet, "/api/stats", true, &out)
	assert.Equal(t, http.StatusOK, r.StatusCode, "non 200 response")
	assert.Equal(t, 2, data.Pending)
	assert.Equal(t, 1, data.Queued)
	assert.WithinDuration(t, app.queue.NextFlush(), data.NextFlush, time.Second)
}

func TestGetRecords(t *testing.T) {
	rdis.FlushDB()

	now := time.Now().UTC().Truncate(time.Second)
	for i, r := range []models.Record{
		{ID: "1", UserID: "u1", Identity: "z1111111", VerifiedAt: now},
		{ID: "2", UserID: "u2", Identity: "z2222222", VerifiedAt: now},
		{ID: "3", UserID: "u1", Identity: "z1111111", VerifiedAt: now},
	} {
		require.NoError(t, app.store.Append(context.Background(), r), "error appending record %d", i)
	}

	var (
		recs []models.Record
		out  = httpResp{Data: &recs}
	)
	r := testRequest(t, http.MethodGet, "/api/records", true, &out)
	assert.Equal(t, http.StatusOK, r.StatusCode, "non 200 response")
	require.Len(t, recs, 3)
	assert.Equal(t, "1", recs[0].ID)
	assert.Equal(t, "3", recs[2].ID)

	recs = nil
	testRequest(t, http.MethodGet, "/api/records?user_id=u1", true, &out)
	require.Len(t, recs, 2, "user_id filter")
	assert.Equal(t, "u1", recs[1].UserID)

	recs = nil
	testRequest(t, http.MethodGet, "/api/records?identity=Z2222222", true, &out)
	require.Len(t, recs, 1, "identity filter")
	assert.Equal(t, "2", recs[0].ID)

	recs = nil
	testRequest(t, http.MethodGet, "/api/records?limit=2", true, &out)
	assert.Len(t, recs, 2, "limit")

	r = testRequest(t, http.MethodGet, "/api/records?limit=0", true, &httpResp{})
	assert.Equal(t, http.StatusBadRequest, r.StatusCode, "non 400 response for bad limit")
}

func TestSampleConfig(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, k.Load(file.Provider(sampleConfig), toml.Parser()))

	var dc discord.Conf
	assert.NoError(t, unmarshal(k, "discord", &dc))
	assert.Equal(t, "!", dc.Prefix)
	assert.Equal(t, "Get code", dc.GetCodeLabel)

	cfg := verify.DefaultConfig()
	require.NoError(t, unmarshal(k, "verify", &cfg))
	assert.Equal(t, 30*time.Minute, cfg.OTPTTL)
	assert.Equal(t, 0xF5BE04, cfg.Colour)
	require.Len(t, cfg.Prompts, 1)
	assert.Equal(t, "fave_distro", cfg.Prompts[0].ID)
	assert.Contains(t, cfg.Mail.HTML, "{{ .Code }}")

	// The sample verify config should be usable as is.
	_, err := verify.New(cfg, verify.Deps{
		Cache:   cache.New(),
		Mailer:  app.queue,
		Store:   app.store,
		Granter: &discord.Bot{},
		Log:     app.lo,
	})
	assert.NoError(t, err)

	var sc mailq.Conf
	assert.NoError(t, unmarshal(k, "smtp", &sc))
	assert.NoError(t, validate.Struct(sc))
	assert.Equal(t, 10*time.Second, sc.Timeout)

	var opt mailq.Opt
	assert.NoError(t, unmarshal(k, "queue", &opt))
	assert.Equal(t, 30*time.Second, opt.Interval)

	var rc redis.Conf
	assert.NoError(t, unmarshal(k, "store.redis", &rc))
	assert.Equal(t, 6379, rc.Port)
}

func TestUnmarshalDefaults(t *testing.T) {
	k := loadConfig(t, `
[verify]
otp_length = 6

[[verify.prompts]]
id = "year"
label = "Year of study"
`)

	cfg := verify.DefaultConfig()
	require.NoError(t, unmarshal(k, "verify", &cfg))
	assert.Equal(t, 6, cfg.OTPLength)
	assert.Equal(t, verify.DefaultConfig().OTPCharPool, cfg.OTPCharPool, "default not retained")

	// Lists replace the defaults instead of merging into them.
	require.Len(t, cfg.Prompts, 1)
	assert.Equal(t, models.FormField{ID: "year", Label: "Year of study"}, cfg.Prompts[0])

	// Missing sections leave defaults alone.
	opt := mailq.Opt{Interval: time.Minute}
	require.NoError(t, unmarshal(k, "queue", &opt))
	assert.Equal(t, time.Minute, opt.Interval)
}

func TestUnmarshalUnknownKeys(t *testing.T) {
	k := loadConfig(t, `
[verify]
otp_lenght = 6
`)

	cfg := verify.DefaultConfig()
	assert.Error(t, unmarshal(k, "verify", &cfg), "unknown key accepted")
}

func TestInitStore(t *testing.T) {
	k := loadConfig(t, `
[store]
type = "sqlite"

[store.sqlite]
path = "`+filepath.Join(t.TempDir(), "test.db")+`"
`)

	st, err := initStore(context.Background(), k)
	require.NoError(t, err)
	assert.NoError(t, st.Ping(context.Background()))
	assert.NoError(t, st.Close(context.Background()))

	k.Set("store.type", "csv")
	_, err = initStore(context.Background(), k)
	assert.ErrorIs(t, err, store.ErrUnknownType)
}

func TestIsCommand(t *testing.T) {
	const bot = "1147938807035990016"
	for _, c := range []struct {
		in string
		ok bool
	}{
		{"!verifysetup", true},
		{"  !verifysetup now", true},
		{"<@" + bot + "> verifysetup", true},
		{"<@!" + bot + "> verifysetup", true},
		{"verifysetup", false},
		{"!verifysetupx", false},
		{"?verifysetup", false},
		{"<@123> verifysetup", false},
		{"!", false},
	} {
		assert.Equal(t, c.ok, isCommand(c.in, cmdSetup, "!", bot), c.in)
	}

	assert.False(t, isCommand("verifysetup", cmdSetup, "", bot), "empty prefix matched")
}

func TestNewConfigFile(t *testing.T) {
	fs, err := stuffbin.NewLocalFS("/", sampleConfig+":/config.sample.toml")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, newConfigFile(fs, path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "[verify.mail]")

	assert.Error(t, newConfigFile(fs, path), "existing config overwritten")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "discord.token", envKey("VERIFYBOT_DISCORD__TOKEN"))
	assert.Equal(t, "store.mongo.uri", envKey("VERIFYBOT_STORE__MONGO__URI"))
}

// loadConfig loads a TOML config from a string.
func loadConfig(t *testing.T, src string) *koanf.Koanf {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	k := koanf.New(".")
	require.NoError(t, k.Load(file.Provider(path), toml.Parser()))
	return k
}

func testRequest(t *testing.T, method, path string, withAuth bool, out interface{}) *http.Response {
	req, err := http.NewRequest(method, srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
		return nil
	}
	if withAuth {
		req.SetBasicAuth(dummyUser, dummyPassword)
	}

	// HTTP client.
	c := &http.Client{}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
		return nil
	}
	defer resp.Body.Close()

	if err := json.Unmarshal(respBody, out); err != nil {
		t.Fatal(err)
	}

	return resp
}
