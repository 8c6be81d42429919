package daemon

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rapidaai/sonorad/pkg/core"
	"github.com/rapidaai/sonorad/pkg/errs"
	"github.com/rapidaai/sonorad/pkg/protocol/packet"
	"github.com/rapidaai/sonorad/pkg/protocol/pdispatch"
	"github.com/rapidaai/sonorad/pkg/protocol/tagstruct"
	"github.com/rapidaai/sonorad/pkg/streamrestore"
	"github.com/rapidaai/sonorad/pkg/types"
)

// Command codes, spec.md §6.1. Only the subset §1's scope covers is
// handled here; CREATE_UPLOAD_STREAM/PLAY_SAMPLE and friends are
// sample-cache operations, explicitly out of scope.
const (
	cmdError                = pdispatch.CommandError
	cmdTimeout              = pdispatch.CommandTimeout
	cmdReply                = pdispatch.CommandReply
	cmdCreatePlaybackStream = 3
	cmdDeletePlaybackStream = 4
	cmdCreateRecordStream   = 5
	cmdDeleteRecordStream   = 6
	cmdExit                 = 7
	cmdAuth                 = 8
	cmdSetClientName        = 9
	cmdLookupSink           = 10
	cmdLookupSource         = 11
	cmdStat                 = 13
	cmdGetPlaybackLatency   = 14
)

const cookieLen = 256

// cookiePath is spec.md §6.2's on-disk auth cookie location.
func cookiePath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "pulse", "cookie")
	}
	return filepath.Join(os.Getenv("HOME"), ".pulse-cookie")
}

// loadOrCreateCookie reads the cookie at cookiePath, creating one with
// mode 0600 on first run.
func loadOrCreateCookie() ([]byte, error) {
	path := cookiePath()
	b, err := os.ReadFile(path)
	if err == nil && len(b) == cookieLen {
		return b, nil
	}
	cookie := make([]byte, cookieLen)
	if _, err := rand.Read(cookie); err != nil {
		return nil, fmt.Errorf("daemon: generate cookie: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		_ = os.MkdirAll(dir, 0700)
	}
	if err := os.WriteFile(path, cookie, 0600); err != nil {
		return nil, fmt.Errorf("daemon: write cookie %s: %w", path, err)
	}
	return cookie, nil
}

// registerCommands installs every handler sess.dispatch understands.
func (sess *session) registerCommands() {
	sess.dispatch.RegisterCommand(cmdAuth, sess.handleAuth)
	sess.dispatch.RegisterCommand(cmdSetClientName, sess.handleSetClientName)
	sess.dispatch.RegisterCommand(cmdLookupSink, sess.handleLookupSink)
	sess.dispatch.RegisterCommand(cmdLookupSource, sess.handleLookupSource)
	sess.dispatch.RegisterCommand(cmdCreatePlaybackStream, sess.handleCreatePlaybackStream)
	sess.dispatch.RegisterCommand(cmdDeletePlaybackStream, sess.handleDeletePlaybackStream)
	sess.dispatch.RegisterCommand(cmdCreateRecordStream, sess.handleCreateRecordStream)
	sess.dispatch.RegisterCommand(cmdDeleteRecordStream, sess.handleDeleteRecordStream)
	sess.dispatch.RegisterCommand(cmdGetPlaybackLatency, sess.handleGetPlaybackLatency)
	sess.dispatch.RegisterCommand(cmdStat, sess.handleStat)
	sess.dispatch.RegisterCommand(cmdExit, sess.handleExit)
}

func replyHeader(tag uint32) *tagstruct.TagStruct {
	ts := tagstruct.New()
	ts.PutU32(cmdReply)
	ts.PutU32(tag)
	return ts
}

func errorReply(tag uint32, kind errs.Kind) *tagstruct.TagStruct {
	ts := tagstruct.New()
	ts.PutU32(cmdError)
	ts.PutU32(tag)
	ts.PutU32(uint32(kind))
	return ts
}

func (sess *session) sendReply(ts *tagstruct.TagStruct) {
	sess.pstream.SendPacket(packet.NewCopy(ts.Bytes()))
}

func (sess *session) handleAuth(_ *pdispatch.Pdispatch, _, tag uint32, ts *tagstruct.TagStruct, _ any) error {
	given, err := ts.GetArbitrary()
	if err != nil || len(given) != cookieLen || subtle.ConstantTimeCompare(given, sess.cookie) != 1 {
		sess.sendReply(errorReply(tag, errs.Access))
		return nil
	}
	sess.authenticated = true
	reply := replyHeader(tag)
	reply.PutU32(0) // protocol version, unused by this rendition
	sess.sendReply(reply)
	return nil
}

func (sess *session) requireAuth(tag uint32) bool {
	if sess.authenticated {
		return true
	}
	sess.sendReply(errorReply(tag, errs.Access))
	return false
}

func (sess *session) handleSetClientName(_ *pdispatch.Pdispatch, _, tag uint32, ts *tagstruct.TagStruct, _ any) error {
	if !sess.requireAuth(tag) {
		return nil
	}
	props, err := ts.GetProplist()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	if name, ok := props.Gets("application.name"); ok {
		sess.client.Name = name
	}
	sess.client.Proplist = props
	reply := replyHeader(tag)
	reply.PutU32(sess.client.Index)
	sess.sendReply(reply)
	return nil
}

func (sess *session) handleLookupSink(_ *pdispatch.Pdispatch, _, tag uint32, ts *tagstruct.TagStruct, _ any) error {
	if !sess.requireAuth(tag) {
		return nil
	}
	name, ok, err := ts.GetString()
	if err != nil || !ok {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	sink, found := sess.core.SinkByName(name)
	if !found {
		sess.sendReply(errorReply(tag, errs.NoEntity))
		return nil
	}
	reply := replyHeader(tag)
	reply.PutU32(sink.Index)
	sess.sendReply(reply)
	return nil
}

func (sess *session) handleLookupSource(_ *pdispatch.Pdispatch, _, tag uint32, ts *tagstruct.TagStruct, _ any) error {
	if !sess.requireAuth(tag) {
		return nil
	}
	name, ok, err := ts.GetString()
	if err != nil || !ok {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	src, found := sess.core.SourceByName(name)
	if !found {
		sess.sendReply(errorReply(tag, errs.NoEntity))
		return nil
	}
	reply := replyHeader(tag)
	reply.PutU32(src.Index)
	sess.sendReply(reply)
	return nil
}

// handleCreatePlaybackStream reads (sink_name_or_nil, spec, channel_map,
// proplist, max_length, target_length, prebuf), attaches a new
// SinkInput to the named (or default) sink, and replies with the
// stream's index plus the channel it is framed on in pstream.
func (sess *session) handleCreatePlaybackStream(_ *pdispatch.Pdispatch, _, tag uint32, ts *tagstruct.TagStruct, _ any) error {
	if !sess.requireAuth(tag) {
		return nil
	}
	sinkName, _, err := ts.GetString()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	spec, err := ts.GetSampleSpec()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	chmap, err := ts.GetChannelMap()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	props, err := ts.GetProplist()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	maxLength, err := ts.GetU32()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	tlength, err := ts.GetU32()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	prebuf, err := ts.GetU32()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	if !spec.Valid() {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}

	sink, found := sess.resolveSink(sinkName)
	if !found {
		sess.sendReply(errorReply(tag, errs.NoEntity))
		return nil
	}

	in := core.NewSinkInput(sess.client.Name, spec, chmap, props, sess.pool, int64(maxLength), int64(tlength), int64(prebuf))
	if sess.restore != nil {
		applyRestoredVolume(in, sess.restore, props, spec)
	}
	in.Put()
	idx := sess.core.RegisterSinkInput(in)
	sink.AttachInput(in)

	channel := sess.newChannel()
	sess.mu.Lock()
	sess.playback[channel] = in
	sess.mu.Unlock()

	reply := replyHeader(tag)
	reply.PutU32(idx)
	reply.PutU32(channel)
	reply.PutU32(uint32(tlength))
	reply.PutU32(uint32(prebuf))
	sess.sendReply(reply)
	return nil
}

func (sess *session) handleDeletePlaybackStream(_ *pdispatch.Pdispatch, _, tag uint32, ts *tagstruct.TagStruct, _ any) error {
	if !sess.requireAuth(tag) {
		return nil
	}
	idx, err := ts.GetU32()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	in, found := sess.core.SinkInput(idx)
	if !found {
		sess.sendReply(errorReply(tag, errs.NoEntity))
		return nil
	}
	in.Unlink()
	sess.mu.Lock()
	for ch, stream := range sess.playback {
		if stream == in {
			delete(sess.playback, ch)
		}
	}
	sess.mu.Unlock()
	sess.sendReply(replyHeader(tag))
	return nil
}

// handleCreateRecordStream mirrors handleCreatePlaybackStream for the
// capture direction: attaches a SourceOutput to the named (or
// default) source.
func (sess *session) handleCreateRecordStream(_ *pdispatch.Pdispatch, _, tag uint32, ts *tagstruct.TagStruct, _ any) error {
	if !sess.requireAuth(tag) {
		return nil
	}
	sourceName, _, err := ts.GetString()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	spec, err := ts.GetSampleSpec()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	chmap, err := ts.GetChannelMap()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	props, err := ts.GetProplist()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	maxLength, err := ts.GetU32()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	if !spec.Valid() {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}

	src, found := sess.resolveSource(sourceName)
	if !found {
		sess.sendReply(errorReply(tag, errs.NoEntity))
		return nil
	}

	out := core.NewSourceOutput(sess.client.Name, spec, chmap, props, sess.pool, int64(maxLength))
	out.Put()
	idx := sess.core.RegisterSourceOutput(out)
	src.AttachOutput(out)

	channel := sess.newChannel()
	sess.mu.Lock()
	sess.record[channel] = out
	sess.mu.Unlock()

	reply := replyHeader(tag)
	reply.PutU32(idx)
	reply.PutU32(channel)
	sess.sendReply(reply)
	return nil
}

func (sess *session) handleDeleteRecordStream(_ *pdispatch.Pdispatch, _, tag uint32, ts *tagstruct.TagStruct, _ any) error {
	if !sess.requireAuth(tag) {
		return nil
	}
	idx, err := ts.GetU32()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	out, found := sess.core.SourceOutput(idx)
	if !found {
		sess.sendReply(errorReply(tag, errs.NoEntity))
		return nil
	}
	out.Unlink()
	sess.mu.Lock()
	for ch, stream := range sess.record {
		if stream == out {
			delete(sess.record, ch)
		}
	}
	sess.mu.Unlock()
	sess.sendReply(replyHeader(tag))
	return nil
}

func (sess *session) handleGetPlaybackLatency(_ *pdispatch.Pdispatch, _, tag uint32, ts *tagstruct.TagStruct, _ any) error {
	if !sess.requireAuth(tag) {
		return nil
	}
	idx, err := ts.GetU32()
	if err != nil {
		sess.sendReply(errorReply(tag, errs.Invalid))
		return nil
	}
	in, found := sess.core.SinkInput(idx)
	if !found {
		sess.sendReply(errorReply(tag, errs.NoEntity))
		return nil
	}
	var latency uint64
	if sink := in.Sink(); sink != nil {
		latency = sink.RequestedLatency()
	}
	reply := replyHeader(tag)
	reply.PutU32(uint32(latency >> 32))
	reply.PutU32(uint32(latency))
	sess.sendReply(reply)
	return nil
}

func (sess *session) handleStat(_ *pdispatch.Pdispatch, _, tag uint32, _ *tagstruct.TagStruct, _ any) error {
	if !sess.requireAuth(tag) {
		return nil
	}
	stats := sess.pool.Stats()
	reply := replyHeader(tag)
	reply.PutU32(uint32(stats.AllocatedBytes))
	reply.PutU32(uint32(stats.AccumulatedBytes))
	sess.sendReply(reply)
	return nil
}

func (sess *session) handleExit(_ *pdispatch.Pdispatch, _, tag uint32, _ *tagstruct.TagStruct, _ any) error {
	if !sess.requireAuth(tag) {
		return nil
	}
	sess.sendReply(replyHeader(tag))
	sess.pstream.Close()
	return nil
}

func applyRestoredVolume(in *core.SinkInput, store *streamrestore.Store, props *types.Proplist, spec types.SampleSpec) {
	name := streamrestore.CanonicalName(props, spec)
	entry, found, err := store.Read(name)
	if err != nil || !found {
		return
	}
	if _, vol, ok := entry.DecodedVolume(); ok {
		in.Volume = vol
	}
	if entry.MutedValid {
		in.Muted = entry.Muted
	}
}
