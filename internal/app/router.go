// internal/app/router.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	d "github.com/jose-valero/voice-queue-bot/internal/adapters/discord"
	"github.com/jose-valero/voice-queue-bot/internal/display"
	"github.com/jose-valero/voice-queue-bot/internal/queue"
	"github.com/jose-valero/voice-queue-bot/internal/ui"
)

// request is one command or button press, already stripped of discordgo.
type request struct {
	Command    string
	Sub        string
	GuildID    string
	ChannelID  string
	UserID     string
	Privileged bool
	Opts       options
}

func (r request) path() string {
	if r.Sub == "" {
		return r.Command
	}
	return r.Command + " " + r.Sub
}

// options holds string, int64 or bool values by option name.
type options map[string]any

func (o options) str(name string) string {
	s, _ := o[name].(string)
	return strings.TrimSpace(s)
}

func (o options) int(name string) (int, bool) {
	n, ok := o[name].(int64)
	return int(n), ok
}

func (o options) boolean(name string) (bool, bool) {
	b, ok := o[name].(bool)
	return b, ok
}

type reply struct {
	Text   string
	Embed  *discordgo.MessageEmbed
	Public bool
}

func fail(err error) reply {
	return reply{Text: "⚠️ " + queue.UserMessage(err)}
}

var privileged = map[string]bool{
	"queue create":   true,
	"queue edit":     true,
	"queue delete":   true,
	"kick":           true,
	"pull":           true,
	"shuffle":        true,
	"clear":          true,
	"display attach": true,
	"display detach": true,
	"settings":       true,
}

// VoiceLocator says where a member is connected.
type VoiceLocator interface {
	LastVoice(guildID, userID string) (string, bool)
}

// Router maps interactions to engine operations.
type Router struct {
	engine *queue.Engine
	syncer *display.Syncer
	policy *d.Policy
	voice  VoiceLocator
	color  func(ctx context.Context, guildID string) int
	now    func() time.Time
}

// NewRouter builds a Router. voice and color may be nil.
func NewRouter(engine *queue.Engine, syncer *display.Syncer, policy *d.Policy, voice VoiceLocator, color func(ctx context.Context, guildID string) int) *Router {
	if color == nil {
		color = func(context.Context, string) int { return ui.DefaultColor }
	}
	return &Router{engine: engine, syncer: syncer, policy: policy, voice: voice, color: color, now: time.Now}
}

func (r *Router) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		_ = d.SendEphemeral(s, i, "Queues only work inside a server.")
		return
	}
	var req request
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		req = slashRequest(i)
	case discordgo.InteractionMessageComponent:
		var ok bool
		if req, ok = buttonRequest(i); !ok {
			return
		}
	default:
		return
	}
	if u := d.UserOf(i); u != nil {
		req.UserID = u.ID
	}
	req.GuildID, req.ChannelID = i.GuildID, i.ChannelID
	req.Privileged = r.policy.IsPrivileged(i.Member)
	log.Printf("[router] /%s by %s in %s", req.path(), req.UserID, req.ChannelID)

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	rep := r.dispatch(ctx, req)

	switch {
	case rep.Embed != nil:
		_ = d.SendEphemeralEmbed(s, i, rep.Embed)
	case rep.Public:
		_ = d.SendResponse(s, i, rep.Text)
	default:
		_ = d.SendEphemeral(s, i, rep.Text)
	}
}

func slashRequest(i *discordgo.InteractionCreate) request {
	data := i.ApplicationCommandData()
	req := request{Command: data.Name}
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		req.Sub = opts[0].Name
		opts = opts[0].Options
	}
	req.Opts = options{}
	for _, o := range opts {
		switch o.Type {
		case discordgo.ApplicationCommandOptionInteger:
			req.Opts[o.Name] = o.IntValue()
		case discordgo.ApplicationCommandOptionBoolean:
			req.Opts[o.Name] = o.BoolValue()
		default: // string, channel and user options carry a string
			if v, ok := o.Value.(string); ok {
				req.Opts[o.Name] = v
			}
		}
	}
	return req
}

func buttonRequest(i *discordgo.InteractionCreate) (request, bool) {
	action, queueID, ok := ui.ParseButton(i.MessageComponentData().CustomID)
	if !ok {
		return request{}, false
	}
	req := request{Opts: options{"queue_id": int64(queueID)}}
	switch action {
	case "queue_join":
		req.Command = "join"
	case "queue_leave":
		req.Command = "leave"
	}
	return req, true
}

func (r *Router) dispatch(ctx context.Context, req request) reply {
	if req.UserID == "" {
		return reply{Text: "⚠️ Could not identify you."}
	}
	if privileged[req.path()] && !req.Privileged {
		return reply{Text: "⛔ You don't have permission for this action."}
	}

	switch req.path() {
	case "queue create":
		return r.createQueue(ctx, req)
	case "queue edit":
		return r.editQueue(ctx, req)
	case "queue delete":
		return r.withQueue(ctx, req, r.deleteQueue)
	case "queue list":
		return r.listQueues(ctx, req)
	case "join":
		return r.withQueue(ctx, req, r.join)
	case "leave":
		return r.withQueue(ctx, req, r.leave)
	case "kick":
		return r.withQueue(ctx, req, r.kick)
	case "pull":
		return r.withQueue(ctx, req, r.pull)
	case "shuffle":
		return r.withQueue(ctx, req, r.shuffle)
	case "clear":
		return r.withQueue(ctx, req, r.clear)
	case "display attach":
		return r.withQueue(ctx, req, r.attach)
	case "display detach":
		return r.withQueue(ctx, req, r.detach)
	case "status":
		return r.withQueue(ctx, req, r.status)
	case "settings":
		return r.settings(ctx, req)
	}
	return reply{Text: "⚠️ Unknown command."}
}

// resolveQueue finds the queue a request is about: an explicit queue id
// (buttons), the channel option, the channel the command was used in, then
// the caller's voice channel.
func (r *Router) resolveQueue(ctx context.Context, req request) (*queue.Queue, error) {
	if id, ok := req.Opts.int("queue_id"); ok {
		return r.engine.Queue(ctx, uint(id))
	}
	if ch := req.Opts.str("channel"); ch != "" {
		return r.engine.QueueBySource(ctx, req.GuildID, ch)
	}
	q, err := r.engine.QueueBySource(ctx, req.GuildID, req.ChannelID)
	if !errors.Is(err, queue.ErrQueueNotFound) {
		return q, err
	}
	if r.voice != nil {
		if ch, ok := r.voice.LastVoice(req.GuildID, req.UserID); ok && ch != "" {
			return r.engine.QueueBySource(ctx, req.GuildID, ch)
		}
	}
	return nil, queue.ErrQueueNotFound
}

func (r *Router) withQueue(ctx context.Context, req request, fn func(context.Context, request, *queue.Queue) reply) reply {
	q, err := r.resolveQueue(ctx, req)
	if err != nil {
		return r.failed(req, err)
	}
	return fn(ctx, req, q)
}

func (r *Router) failed(req request, err error) reply {
	if errors.Is(err, queue.ErrStoreUnavailable) || errors.Is(err, queue.ErrSurfaceUnavailable) {
		log.Printf("[router] /%s: %v", req.path(), err)
	}
	return fail(err)
}

// ------------------- admin -------------------

func (r *Router) createQueue(ctx context.Context, req request) reply {
	q := queue.Queue{
		GuildID:       req.GuildID,
		SourceID:      req.Opts.str("channel"),
		DestinationID: req.Opts.str("destination"),
	}
	if n, ok := req.Opts.int("capacity"); ok {
		q.Capacity = n
	}
	if b, ok := req.Opts.boolean("autofill"); ok {
		q.AutoFill = b
	}
	if n, ok := req.Opts.int("pull"); ok {
		q.PullBatchSize = n
	}
	created, err := r.engine.CreateQueue(ctx, q)
	if err != nil {
		return r.failed(req, err)
	}
	return reply{Text: fmt.Sprintf("✅ Queue #%d created for <#%s>. Use `/display attach` to show it somewhere.", created.ID, created.SourceID)}
}

func (r *Router) editQueue(ctx context.Context, req request) reply {
	q, err := r.resolveQueue(ctx, req)
	if err != nil {
		return r.failed(req, err)
	}
	var patch queue.QueuePatch
	if dest := req.Opts.str("destination"); dest != "" {
		patch.DestinationID = &dest
	}
	if n, ok := req.Opts.int("capacity"); ok {
		patch.Capacity = &n
	}
	if b, ok := req.Opts.boolean("autofill"); ok {
		patch.AutoFill = &b
	}
	if n, ok := req.Opts.int("pull"); ok {
		patch.PullBatchSize = &n
	}
	if _, err := r.engine.UpdateQueue(ctx, q.ID, patch); err != nil {
		return r.failed(req, err)
	}
	return reply{Text: fmt.Sprintf("✅ Queue #%d updated.", q.ID)}
}

func (r *Router) deleteQueue(ctx context.Context, req request, q *queue.Queue) reply {
	if err := r.engine.DeleteQueue(ctx, q.ID); err != nil {
		return r.failed(req, err)
	}
	return reply{Text: fmt.Sprintf("🗑️ Queue #%d deleted.", q.ID)}
}

func (r *Router) listQueues(ctx context.Context, req request) reply {
	qs, err := r.engine.Queues(ctx, req.GuildID)
	if err != nil {
		return r.failed(req, err)
	}
	sizes := make(map[uint]int, len(qs))
	for _, q := range qs {
		n, err := r.engine.Store().CountMembers(ctx, q.ID)
		if err != nil {
			return r.failed(req, err)
		}
		sizes[q.ID] = n
	}
	return reply{Embed: ui.RenderQueueList(qs, sizes, r.color(ctx, req.GuildID))}
}

func (r *Router) settings(ctx context.Context, req request) reply {
	gs, err := r.engine.Settings(ctx, req.GuildID)
	if err != nil {
		return r.failed(req, err)
	}
	if n, ok := req.Opts.int("grace"); ok {
		gs.GracePeriodSeconds = n
	}
	if n, ok := req.Opts.int("pull"); ok {
		gs.PullBatchSize = n
	}
	if raw := req.Opts.str("color"); raw != "" {
		c, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 16, 32)
		if err != nil || c < 0 || c > 0xFFFFFF {
			return fail(queue.ErrInvalidArgument)
		}
		gs.Color = int(c)
	}
	if err := r.engine.SaveSettings(ctx, gs); err != nil {
		return r.failed(req, err)
	}
	grace := "default"
	if gs.GracePeriodSeconds >= 0 {
		grace = fmt.Sprintf("%ds", gs.GracePeriodSeconds)
	}
	return reply{Text: fmt.Sprintf("✅ Settings saved: grace %s, pull %d.", grace, gs.PullBatchSize)}
}

// ------------------- members -------------------

func (r *Router) join(ctx context.Context, req request, q *queue.Queue) reply {
	rank, err := r.engine.Join(ctx, q.ID, req.UserID, req.Opts.str("note"))
	if err != nil {
		return r.failed(req, err)
	}
	return reply{Text: fmt.Sprintf("🙌 You're #%d in <#%s>.", rank+1, q.SourceID)}
}

func (r *Router) leave(ctx context.Context, req request, q *queue.Queue) reply {
	if _, err := r.engine.Leave(ctx, q.ID, req.UserID); err != nil {
		if errors.Is(err, queue.ErrNotQueued) {
			return reply{Text: "⚠️ You're not in this queue."}
		}
		return r.failed(req, err)
	}
	return reply{Text: "👋 You left the queue."}
}

func (r *Router) kick(ctx context.Context, req request, q *queue.Queue) reply {
	target := req.Opts.str("user")
	if target == "" {
		return fail(queue.ErrInvalidArgument)
	}
	if _, err := r.engine.Kick(ctx, q.ID, target); err != nil {
		return r.failed(req, err)
	}
	return reply{Text: fmt.Sprintf("✅ <@%s> removed from queue #%d.", target, q.ID)}
}

func (r *Router) pull(ctx context.Context, req request, q *queue.Queue) reply {
	count, _ := req.Opts.int("count")
	res, err := r.engine.Pull(ctx, q.ID, count)
	if err != nil {
		return r.failed(req, err)
	}
	if res.Actual == 0 {
		return reply{Text: "Nobody is waiting."}
	}
	mentions := make([]string, len(res.Members))
	for i, m := range res.Members {
		mentions[i] = "<@" + m.MemberID + ">"
	}
	text := fmt.Sprintf("➡️ Pulled %s", strings.Join(mentions, ", "))
	if res.Actual < res.Requested {
		text += fmt.Sprintf(" (%d of %d requested)", res.Actual, res.Requested)
	}
	if q.DestinationID != "" {
		text += fmt.Sprintf(" into <#%s>", q.DestinationID)
	}
	return reply{Text: text + ".", Public: true}
}

func (r *Router) shuffle(ctx context.Context, req request, q *queue.Queue) reply {
	ms, err := r.engine.Shuffle(ctx, q.ID)
	if err != nil {
		return r.failed(req, err)
	}
	return reply{Text: fmt.Sprintf("🔀 Shuffled %d members of queue #%d.", len(ms), q.ID), Public: true}
}

func (r *Router) clear(ctx context.Context, req request, q *queue.Queue) reply {
	n, err := r.engine.Clear(ctx, q.ID)
	if err != nil {
		return r.failed(req, err)
	}
	return reply{Text: fmt.Sprintf("🧹 Removed %d members from queue #%d.", n, q.ID), Public: true}
}

func (r *Router) status(ctx context.Context, req request, q *queue.Queue) reply {
	st, err := r.engine.Status(ctx, q.ID)
	if err != nil {
		return r.failed(req, err)
	}
	blocks := display.ChunkFit(st.Queue, st.Members, 25, ui.BlockFits)
	emb := ui.RenderBlock(blocks[0], r.color(ctx, req.GuildID), r.now())
	if rest := len(st.Members) - len(blocks[0].Members); rest > 0 {
		emb.Description += fmt.Sprintf("\n…and %d more", rest)
	}
	pending := 0
	for _, m := range st.Members {
		if r.engine.Pending(q.ID, m.MemberID) {
			pending++
		}
	}
	if pending > 0 {
		emb.Description += fmt.Sprintf("\n\n⏳ %d reconnecting", pending)
	}
	return reply{Embed: emb}
}

// ------------------- displays -------------------

func (r *Router) attach(ctx context.Context, req request, q *queue.Queue) reply {
	if _, err := r.syncer.Attach(ctx, q.ID, req.ChannelID); err != nil {
		return r.failed(req, err)
	}
	return reply{Text: fmt.Sprintf("✅ Queue #%d will be shown here.", q.ID)}
}

func (r *Router) detach(ctx context.Context, req request, q *queue.Queue) reply {
	if err := r.syncer.Detach(ctx, q.ID, req.ChannelID); err != nil {
		return r.failed(req, err)
	}
	return reply{Text: "✅ Display removed."}
}
