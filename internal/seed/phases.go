package seed

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/joshsymonds/convseed/internal/batch"
	"github.com/joshsymonds/convseed/internal/circuit"
	"github.com/joshsymonds/convseed/internal/config"
	"github.com/joshsymonds/convseed/internal/files"
)

func (s *Service) loadFiles(_ context.Context, sess *session) error {
	refs, err := files.Load(sess.spec.FilesPath)
	if err != nil {
		return err
	}
	sess.files = refs
	sess.report.Files = len(refs)
	sess.report.FileBytes = files.TotalSize(refs)
	s.Logger.Info("loaded attachment pool",
		zap.Int("files", len(refs)),
		zap.String("size", humanize.Bytes(uint64(sess.report.FileBytes))),
	)
	return nil
}

func (s *Service) logon(ctx context.Context, sess *session) error {
	s.Client.OnItemAdded(func(evt circuit.ItemAddedEvent) { s.onItemAdded(sess, evt) })
	me, err := s.Client.Logon(ctx, sess.spec.Email, sess.spec.Password)
	if err != nil {
		return err
	}
	sess.me = me
	sess.report.Admin = me.Email
	s.Logger.Info("logged on", zap.String("email", me.Email))
	return nil
}

// onItemAdded runs on the event stream goroutine. Only text items in
// conversations this run created are of interest.
func (s *Service) onItemAdded(sess *session, evt circuit.ItemAddedEvent) {
	item := evt.Item
	if item.Type != circuit.ItemText || !sess.convs.Has(item.ConvID) {
		return
	}
	sess.events.Add(1)
	s.Logger.Debug("item added event", zap.String("item_id", string(item.ID)), zap.String("conv_id", string(item.ConvID)))
}

func (s *Service) discoverUsers(ctx context.Context, sess *session) error {
	tenant, err := s.Client.TenantUsers(ctx)
	if err != nil {
		return err
	}
	if len(tenant) < config.MinUsers {
		return fmt.Errorf("%w: tenant has %d", ErrNotEnoughUsers, len(tenant))
	}
	limit := len(tenant)
	if sess.spec.NrUsers > 0 && sess.spec.NrUsers < limit {
		limit = sess.spec.NrUsers
	}
	users := make([]circuit.User, 0, limit)
	for _, u := range tenant[:limit] {
		if config.IsExcluded(sess.spec.ExcludeEmails, u.Email) {
			continue
		}
		users = append(users, u)
	}
	if len(users) < config.MinUsers {
		return fmt.Errorf("%w: %d left after trimming and exclusions", ErrNotEnoughUsers, len(users))
	}
	sess.users = users
	sess.selector = s.newSelector(sess)
	sess.report.Users = len(users)
	for _, u := range users {
		sess.report.UserPool = append(sess.report.UserPool, u.Email)
	}
	s.Logger.Info("discovered users", zap.Int("tenant", len(tenant)), zap.Int("using", len(users)))
	return nil
}

func (s *Service) plan(_ context.Context, sess *session) error {
	spec := sess.spec
	s.Logger.Info("dry-run plan",
		zap.Int("open_conversations", spec.Open),
		zap.Int("group_conversations", spec.Group),
		zap.String("posts_per_conversation", fmt.Sprintf("%d-%d", spec.Posts.Min, spec.Posts.Max)),
		zap.String("replies_per_conversation", fmt.Sprintf("%d-%d", spec.Replies.Min, spec.Replies.Max)),
		zap.Float64("like_rate", spec.LikeRate),
		zap.Float64("flag_rate", spec.FlagRate),
	)
	return nil
}

func (s *Service) createConversations(ctx context.Context, sess *session) error {
	sel := sess.selector
	description := s.Pool.Text.Short
	tasks := make([]batch.Task[circuit.Conversation], 0, sess.spec.Open+sess.spec.Group)
	kinds := make([]circuit.ConvKind, 0, cap(tasks))

	for i := 0; i < sess.spec.Open; i++ {
		participants, err := sel.RecipientSubset(0)
		if err != nil {
			return err
		}
		topic := fmt.Sprintf("Open %d", i+1)
		tasks = append(tasks, func(ctx context.Context) (circuit.Conversation, error) {
			return s.Client.CreateOpenConversation(ctx, participants, topic, description)
		})
		kinds = append(kinds, circuit.KindOpen)
	}
	for i := 0; i < sess.spec.Group; i++ {
		participants, err := sel.RecipientSubset(2)
		if err != nil {
			return err
		}
		tasks = append(tasks, func(ctx context.Context) (circuit.Conversation, error) {
			return s.Client.CreateGroupConversation(ctx, participants)
		})
		kinds = append(kinds, circuit.KindGroup)
	}

	convs, err := batch.Run(ctx, s.batchOptions(), tasks)
	if err != nil {
		return err
	}
	for i := range convs {
		if convs[i].Kind == "" {
			convs[i].Kind = kinds[i]
		}
		if err := sess.convs.Add(convs[i]); err != nil {
			return err
		}
	}
	if s.Recorder != nil {
		if err := s.Recorder.Conversations(ctx, sess.runID, convs); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
	}
	s.Logger.Info("created conversations", zap.Int("open", sess.spec.Open), zap.Int("group", sess.spec.Group))
	return nil
}

func (s *Service) sendPosts(ctx context.Context, sess *session) error {
	sel := sess.selector
	var (
		tasks   []batch.Task[circuit.Item]
		targets []circuit.ConvID
	)
	for _, st := range sess.convs.Snapshot() {
		n := sel.Between(sess.spec.Posts.Min, sess.spec.Posts.Max)
		for i := 0; i < n; i++ {
			tasks = append(tasks, s.textTask(st.Conversation.ID, circuit.TextItem{
				Subject:     sel.Subject(),
				Content:     sel.TextContent(),
				ContentType: circuit.ContentRich,
				Attachments: sel.Attachments(),
			}))
			targets = append(targets, st.Conversation.ID)
		}
	}

	items, err := batch.Run(ctx, s.batchOptions(), tasks)
	if err != nil {
		return err
	}
	for i, item := range items {
		if err := sess.convs.AddPost(targets[i], item); err != nil {
			return err
		}
	}
	if err := s.recordItems(ctx, sess, items); err != nil {
		return err
	}
	s.Logger.Info("created text messages", zap.Int("count", len(items)))
	return nil
}

func (s *Service) sendReplies(ctx context.Context, sess *session) error {
	sel := sess.selector
	var (
		tasks   []batch.Task[circuit.Item]
		targets []circuit.ConvID
		parents []circuit.ItemID
	)
	for _, st := range sess.convs.Snapshot() {
		n := sel.Between(sess.spec.Replies.Min, sess.spec.Replies.Max)
		if len(st.Posts) == 0 {
			if n > 0 {
				s.Logger.Debug("no posts to reply to", zap.String("conv_id", string(st.Conversation.ID)))
			}
			continue
		}
		for i := 0; i < n; i++ {
			parent, _ := sel.ParentPost(st.Posts)
			tasks = append(tasks, s.textTask(st.Conversation.ID, circuit.TextItem{
				ParentID:    parent,
				Subject:     sel.Subject(),
				Content:     sel.TextContent(),
				ContentType: circuit.ContentRich,
				Attachments: sel.Attachments(),
			}))
			targets = append(targets, st.Conversation.ID)
			parents = append(parents, parent)
		}
	}

	items, err := batch.Run(ctx, s.batchOptions(), tasks)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ParentID == "" {
			items[i].ParentID = parents[i]
		}
		if err := sess.convs.AddReply(targets[i], items[i]); err != nil {
			return err
		}
	}
	if err := s.recordItems(ctx, sess, items); err != nil {
		return err
	}
	s.Logger.Info("created replies", zap.Int("count", len(items)))
	return nil
}

func (s *Service) react(ctx context.Context, sess *session) error {
	sel := sess.selector
	var (
		tasks          []func(ctx context.Context) error
		liked, flagged []circuit.Item
	)
	for _, st := range sess.convs.Snapshot() {
		for _, msg := range st.Messages {
			if sel.Chance(sess.spec.LikeRate) {
				id := msg.ID
				tasks = append(tasks, func(ctx context.Context) error { return s.Client.LikeItem(ctx, id) })
				liked = append(liked, msg)
			}
			if sel.Chance(sess.spec.FlagRate) {
				conv, id := st.Conversation.ID, msg.ID
				tasks = append(tasks, func(ctx context.Context) error { return s.Client.FlagItem(ctx, conv, id) })
				flagged = append(flagged, msg)
			}
		}
	}

	if err := batch.Do(ctx, s.batchOptions(), tasks); err != nil {
		return err
	}
	sess.report.Likes = len(liked)
	sess.report.Flags = len(flagged)
	if s.Recorder != nil {
		if err := s.Recorder.Reactions(ctx, sess.runID, reactionLike, liked); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		if err := s.Recorder.Reactions(ctx, sess.runID, reactionFlag, flagged); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
	}
	s.Logger.Info("liked messages", zap.Int("count", len(liked)))
	s.Logger.Info("flagged messages", zap.Int("count", len(flagged)))
	return nil
}

func (s *Service) textTask(conv circuit.ConvID, item circuit.TextItem) batch.Task[circuit.Item] {
	return func(ctx context.Context) (circuit.Item, error) {
		created, err := s.Client.AddTextItem(ctx, conv, item)
		if err != nil {
			return circuit.Item{}, err
		}
		if created.ConvID == "" {
			created.ConvID = conv
		}
		return created, nil
	}
}

func (s *Service) recordItems(ctx context.Context, sess *session, items []circuit.Item) error {
	if s.Recorder == nil || len(items) == 0 {
		return nil
	}
	if err := s.Recorder.Items(ctx, sess.runID, items); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}
