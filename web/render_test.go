package web

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/peerview/node"
)

const testMetahash = "6f1ed002ab5595859014ebf0951522d9ac06bfbbf4b3e5b6a5b9e4b0e0f1c2d3"

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	require.NoError(t, err)
	return r
}

func decodeKeyed[T any](t *testing.T, raw string) node.Keyed[T] {
	t.Helper()
	var k node.Keyed[T]
	require.NoError(t, json.Unmarshal([]byte(raw), &k))
	return k
}

func TestPeersSingleItem(t *testing.T) {
	r := newTestRenderer(t)
	peers := decodeKeyed[string](t, `{"a":"1.2.3.4:8080"}`)

	var buf bytes.Buffer
	require.NoError(t, r.Peers(&buf, peers))
	assert.Equal(t, `<ul class="peerList"><li id="a" class="peerItem">1.2.3.4:8080</li></ul>`, buf.String())
}

func TestPeersRenderingIsIdempotent(t *testing.T) {
	r := newTestRenderer(t)
	peers := decodeKeyed[string](t, `{"z":"9.9.9.9:1","10":"10.0.0.1:1","2":"2.2.2.2:2","b":"5.5.5.5:5"}`)

	var first, second bytes.Buffer
	require.NoError(t, r.Peers(&first, peers))
	require.NoError(t, r.Peers(&second, decodeKeyed[string](t, `{"b":"5.5.5.5:5","2":"2.2.2.2:2","z":"9.9.9.9:1","10":"10.0.0.1:1"}`)))

	assert.Equal(t, first.String(), second.String())
	assert.Less(t, strings.Index(first.String(), `id="2"`), strings.Index(first.String(), `id="10"`))
}

func TestEmptyMappingRendersEmptyList(t *testing.T) {
	r := newTestRenderer(t)

	cases := map[string]func(*bytes.Buffer) error{
		`<ul class="peerList"></ul>`:      func(b *bytes.Buffer) error { return r.Peers(b, decodeKeyed[string](t, `{}`)) },
		`<ul class="contactList"></ul>`:   func(b *bytes.Buffer) error { return r.Contacts(b, nil) },
		`<ul class="msgList"></ul>`:       func(b *bytes.Buffer) error { return r.Rumors(b, decodeKeyed[node.RumorMessage](t, `null`)) },
		`<ul class="confirmedList"></ul>`: func(b *bytes.Buffer) error { return r.Confirmed(b, nil) },
		`<ul class="searchList"></ul>`:    func(b *bytes.Buffer) error { return r.SearchResults(b, nil) },
	}
	for want, render := range cases {
		var buf bytes.Buffer
		require.NoError(t, render(&buf))
		assert.Equal(t, want, buf.String())
	}

	var buf bytes.Buffer
	require.NoError(t, r.Private(&buf, decodeKeyed[node.PrivateMessage](t, `[]`)))
	assert.Equal(t, `<ul class="msgList"></ul>`, buf.String())
}

func TestContactsLinkToPrivatePage(t *testing.T) {
	r := newTestRenderer(t)
	contacts := decodeKeyed[string](t, `{"bob smith":"1.2.3.4:5000"}`)

	var buf bytes.Buffer
	require.NoError(t, r.Contacts(&buf, contacts))
	assert.Equal(t,
		`<ul class="contactList"><li class="contactItem"><a target="popup" rel="noopener noreferrer" href="/private?peer=bob%20smith">bob smith</a> (via 1.2.3.4:5000)</li></ul>`,
		buf.String())

	buf.Reset()
	require.NoError(t, r.ContactSelect(&buf, contacts))
	assert.Contains(t, buf.String(), `<select name="peer">`)
	assert.Contains(t, buf.String(), `<option value="bob smith">bob smith</option>`)
}

func TestRumorsAndPrivateMessages(t *testing.T) {
	r := newTestRenderer(t)

	var buf bytes.Buffer
	rumors := decodeKeyed[node.RumorMessage](t, `[{"ID":3,"Origin":"bob","Text":"hello"}]`)
	require.NoError(t, r.Rumors(&buf, rumors))
	assert.Equal(t,
		`<ul class="msgList"><li id="0" class="msgItem"><strong>Rumor ID</strong> 3 <strong>from</strong> bob<br><strong>MESSAGE:</strong> hello</li></ul>`,
		buf.String())

	buf.Reset()
	thread := decodeKeyed[node.PrivateMessage](t, `[{"Origin":"bob","Text":"psst"}]`)
	require.NoError(t, r.Private(&buf, thread))
	assert.Contains(t, buf.String(), `<li id="0" class="msgItem"><strong>PRIVATE MESSAGE from</strong> bob<br>`)
}

func TestTextIsEscaped(t *testing.T) {
	r := newTestRenderer(t)
	rumors := node.Keyed[node.RumorMessage]{
		{Key: "0", Value: node.RumorMessage{ID: 1, Origin: "mallory", Text: `<script>alert("x")</script>`}},
	}

	var buf bytes.Buffer
	require.NoError(t, r.Rumors(&buf, rumors))
	assert.NotContains(t, buf.String(), "<script>")
	assert.Contains(t, buf.String(), "&lt;script&gt;")
}

func TestConfirmedAndSearch(t *testing.T) {
	r := newTestRenderer(t)

	var buf bytes.Buffer
	confirmed := decodeKeyed[node.ConfirmedRumor](t, `[{"Origin":"bob","TxBlock":{"Transaction":{"Name":"song.mp3"}}}]`)
	require.NoError(t, r.Confirmed(&buf, confirmed))
	assert.Equal(t,
		`<ul class="confirmedList"><li id="0" class="confirmedItem"><strong>bob</strong> song.mp3</li></ul>`,
		buf.String())

	buf.Reset()
	results := node.Keyed[string]{{Key: testMetahash, Value: "song.mp3"}}
	require.NoError(t, r.SearchResults(&buf, results))
	out := buf.String()
	assert.Contains(t, out, `<li id="`+testMetahash+`" class="searchItem">song.mp3<form method="post" action="/download">`)
	assert.Contains(t, out, `<input type="hidden" name="metahash" value="`+testMetahash+`">`)
	assert.Contains(t, out, `<input type="hidden" name="filename" value="song.mp3">`)
}
