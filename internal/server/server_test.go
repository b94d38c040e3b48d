package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildkeys/keysync/internal/roster"
	"github.com/guildkeys/keysync/internal/schema"
	"github.com/guildkeys/keysync/internal/store"
	"github.com/guildkeys/keysync/internal/syncclient"
)

type fixture struct {
	store  *store.Store
	server *Server
	http   *httptest.Server
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "keysync.db"))
	require.NoError(t, err)
	require.NoError(t, st.InitSchema())

	srv, err := New(Config{Store: st, Token: token})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Stop()
		_ = st.Close()
	})
	return &fixture{store: st, server: srv, http: ts}
}

func (f *fixture) post(t *testing.T, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.http.URL+syncclient.SyncPath, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSync_IngestThenRoster(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	const guild int64 = 7
	user := roster.Ptr[int64](1)
	_, err := f.store.UpsertCharacter(&roster.CanonicalCharacter{Name: "foo", Realm: "silvermoon", GuildID: roster.Ptr(guild), UserID: user, IsMain: true, IsActive: true})
	require.NoError(t, err)
	_, err = f.store.UpsertCharacter(&roster.CanonicalCharacter{Name: "bar", Realm: "area-52", UserID: user, IsActive: true})
	require.NoError(t, err)
	_, err = f.store.UpsertCharacter(&roster.CanonicalCharacter{Name: "baz", Realm: "silvermoon", GuildID: roster.Ptr(guild), IsActive: true})
	require.NoError(t, err)
	require.NoError(t, f.store.AddGuildMember(1, guild))

	client, err := syncclient.New(syncclient.Options{BaseURLs: []string{f.http.URL}})
	require.NoError(t, err)
	ack, err := client.Send(ctx, []schema.Keystone{
		{CharacterName: "foo", RealmSlug: "silvermoon", Level: 14, DungeonName: "Ara-Kara", IsFromBag: true},
		{CharacterName: "bar", RealmSlug: "area-52", Level: 9, DungeonName: "Grim Batol", IsFromBag: true},
	})
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Equal(t, 2, ack.Received)
	assert.Equal(t, 2, ack.Upserted)
	assert.Empty(t, ack.Message)

	resp, err := http.Get(f.http.URL + "/api/guilds/7/roster")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[RosterResponse](t, resp)
	assert.Equal(t, guild, got.GuildID)
	require.Len(t, got.Entries, 2)

	player := got.Entries[0]
	require.Equal(t, roster.KindPlayer, player.Kind)
	assert.Equal(t, "foo", player.Player.MainCharacterName)
	assert.Equal(t, 1, player.Player.AltCount)
	require.Len(t, player.Player.Keys, 1)
	assert.Equal(t, 14, player.Player.Keys[0].Level)
	assert.True(t, player.Player.HasAltKeys)
	assert.Equal(t, 2, player.Player.TotalKeys)

	orphan := got.Entries[1]
	require.Equal(t, roster.KindOrphan, orphan.Kind)
	assert.Equal(t, "baz", orphan.Orphan.Name)

	assert.Equal(t, roster.Summary{Players: 1, Orphans: 1, Characters: 3, Keys: 2}, got.Summary)
}

func TestSync_DropsInvalidRecords(t *testing.T) {
	f := newFixture(t, "")

	body := `{"keys":[
		{"characterName":"Foo","realmSlug":"Argent Dawn","level":10,"dungeonName":"Ara-Kara","isFromBag":true},
		{"characterName":"","realmSlug":"silvermoon","level":10,"dungeonName":"Ara-Kara","isFromBag":true},
		{"characterName":"bar","realmSlug":"silvermoon","level":0,"dungeonName":"Ara-Kara","isFromBag":true}
	]}`
	resp := f.post(t, body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ack := decode[syncclient.Ack](t, resp)
	assert.True(t, ack.OK)
	assert.Equal(t, 3, ack.Received)
	assert.Equal(t, 1, ack.Upserted)
	assert.Contains(t, ack.Message, "dropped 2")

	c, err := f.store.CharacterByName(context.Background(), "foo", "argent-dawn")
	require.NoError(t, err)
	require.Len(t, c.MythicKeys, 1)
}

func TestSync_EmptyBatch(t *testing.T) {
	f := newFixture(t, "")
	resp := f.post(t, `{"keys":[]}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ack := decode[syncclient.Ack](t, resp)
	assert.True(t, ack.OK)
	assert.Equal(t, 0, ack.Upserted)
}

func TestSync_BadBody(t *testing.T) {
	f := newFixture(t, "")
	resp := f.post(t, `{"keys":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Contains(t, body["error"], "invalid body")
}

func TestSync_Token(t *testing.T) {
	f := newFixture(t, "s3cret")

	resp := f.post(t, `{"keys":[]}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.post(t, `{"keys":[]}`, http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.post(t, `{"keys":[]}`, http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	client, err := syncclient.New(syncclient.Options{BaseURLs: []string{f.http.URL}, Token: "wrong"})
	require.NoError(t, err)
	_, err = client.Send(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, syncclient.IsStatus(err, http.StatusUnauthorized))
}

func TestSync_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, "")
	resp, err := http.Get(f.http.URL + syncclient.SyncPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRoster_InvalidGuild(t *testing.T) {
	f := newFixture(t, "")
	for _, id := range []string{"abc", "0", "-3"} {
		resp, err := http.Get(f.http.URL + "/api/guilds/" + id + "/roster")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, id)
	}
}

func TestRoster_EmptyGuild(t *testing.T) {
	f := newFixture(t, "")
	resp, err := http.Get(f.http.URL + "/api/guilds/99/roster")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"entries":[]`)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	resp, err := http.Get(f.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]interface{}](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["characters"])
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, "")
	f.post(t, `{"keys":[]}`, nil)

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "keysync_server_ingest_batches_total")
	assert.Contains(t, string(raw), "keysync_server_http_request_duration_seconds")
}

func TestWebSocket_ReceivesSyncEvents(t *testing.T) {
	f := newFixture(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() Message {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	hello := read()
	assert.Equal(t, MessageTypeHello, hello.Type)
	assert.Equal(t, 1, f.server.ClientCount())

	f.post(t, `{"keys":[{"characterName":"foo","realmSlug":"silvermoon","level":14,"dungeonName":"Ara-Kara","isFromBag":true}]}`,
		http.Header{syncclient.BatchHeader: {"batch-1"}})

	msg := read()
	require.Equal(t, MessageTypeSync, msg.Type)
	var data SyncData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "batch-1", data.Batch)
	assert.Equal(t, 1, data.Upserted)
	assert.Equal(t, []string{"foo-silvermoon"}, data.Characters)
}

func TestStartStop(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "keysync.db"))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.InitSchema())

	srv, err := New(Config{Addr: "127.0.0.1:0", Store: st})
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop())
}
