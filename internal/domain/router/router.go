// Package router fans a message out to its recipients' mailboxes.
package router

import (
	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/domain/registry"
)

// Directory resolves an online user's mailbox.
type Directory interface {
	GetMailbox(userID model.UserID) (*registry.UserMailbox, bool)
}

// Result tallies one Route call per recipient.
// A recipient with several sessions counts as Successful only if every
// session accepted the message.
type Result struct {
	Successful int
	Dropped    int
	Offline    int
}

func (r Result) Total() int { return r.Successful + r.Dropped + r.Offline }

// Router is stateless. It never creates mailboxes and never retries.
type Router struct {
	dir Directory
}

func New(dir Directory) *Router {
	return &Router{dir: dir}
}

// Route delivers a copy of msg to every recipient, with RecipientID set.
// Recipients are processed as given, duplicates included.
func (r *Router) Route(recipients []model.UserID, msg *model.Message) Result {
	var res Result
	for _, id := range recipients {
		mb, ok := r.dir.GetMailbox(id)
		if !ok {
			res.Offline++
			continue
		}

		cp := msg.Clone()
		cp.RecipientID = id
		if mb.SendMessage(cp) {
			res.Successful++
		} else {
			res.Dropped++
		}
	}
	return res
}
