package job

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/sheet-dispatch/internal/delivery"
	"github.com/ignite/sheet-dispatch/internal/groups"
	"github.com/ignite/sheet-dispatch/internal/pkg/logger"
	"github.com/ignite/sheet-dispatch/internal/splitter"
	"golang.org/x/sync/errgroup"
)

// DeliveryResult is the outcome of mailing one output to one recipient.
type DeliveryResult struct {
	GroupID   string
	Recipient string
	File      string
	OK        bool
	Attempts  int
	Error     string
}

type sendTask struct {
	groupID   string
	recipient string
	file      string
	path      string
	subject   string
	body      string
}

// deliver sends every output with rows to each of its group's recipients,
// one message per recipient. Sends run as a bounded group and are awaited
// together; a failure never stops the others.
func (r *Runner) deliver(ctx context.Context, snap *groups.Snapshot, outputs []splitter.Output) []DeliveryResult {
	var (
		tasks   []sendTask
		results []DeliveryResult
	)
	for _, out := range outputs {
		g := snap.InfoFor(out.GroupID)
		if out.RowCount == 0 || len(g.Recipients) == 0 {
			continue
		}
		subject, body, err := r.templates.Group(delivery.GroupMail{
			GroupID:   out.GroupID,
			GroupName: g.DisplayName(),
			FileName:  out.Filename,
			RowCount:  out.RowCount,
			Sender:    r.cfg.SenderName,
		})
		for _, rcpt := range g.Recipients {
			rcpt = strings.TrimSpace(rcpt)
			if rcpt == "" {
				continue
			}
			if err != nil {
				results = append(results, DeliveryResult{GroupID: out.GroupID, Recipient: rcpt, File: out.Filename, Error: err.Error()})
				continue
			}
			tasks = append(tasks, sendTask{
				groupID:   out.GroupID,
				recipient: rcpt,
				file:      out.Filename,
				path:      out.Path,
				subject:   subject,
				body:      body,
			})
		}
	}
	if len(tasks) == 0 {
		return results
	}
	logger.Info("starting group sends", "count", len(tasks), "concurrency", r.cfg.Concurrency)

	sent := make([]DeliveryResult, len(tasks))
	var eg errgroup.Group
	eg.SetLimit(r.cfg.Concurrency)
	for i, t := range tasks {
		eg.Go(func() error {
			sent[i] = r.sendOne(ctx, t)
			return nil
		})
	}
	_ = eg.Wait()

	for _, res := range sent {
		if res.OK {
			logger.Info("group mail sent", "group_id", res.GroupID, "recipient", res.Recipient, "file", res.File)
		} else {
			logger.Error("group mail failed", "group_id", res.GroupID, "recipient", res.Recipient, "file", res.File, "error", res.Error)
		}
	}
	return append(results, sent...)
}

func (r *Runner) sendOne(ctx context.Context, t sendTask) (res DeliveryResult) {
	res = DeliveryResult{GroupID: t.groupID, Recipient: t.recipient, File: t.file}
	defer func() {
		if p := recover(); p != nil {
			res.OK = false
			res.Error = fmt.Sprintf("panic: %v", p)
		}
	}()
	out := r.sender.Send(ctx, []string{t.recipient}, t.subject, t.body, t.path)
	res.OK = out.OK
	res.Attempts = out.Attempts
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	return res
}
