package api

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/auth"
	"github.com/Vedant1607/QuickChat/internal/chat"
	"github.com/Vedant1607/QuickChat/internal/ratelimit"
)

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Server is live"))
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !a.allow(r.Context(), a.clientAddr(r), ratelimit.RuleAuth) {
		writeFail(w, http.StatusTooManyRequests, "Too many attempts, slow down")
		return
	}
	var req auth.SignupRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := a.storeContext(r)
	defer cancel()
	u, token, err := a.auth.Signup(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, envelope{
		"userData": u,
		"token":    token,
		"message":  "Account Created Successfully",
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.allow(r.Context(), a.clientAddr(r), ratelimit.RuleAuth) {
		writeFail(w, http.StatusTooManyRequests, "Too many attempts, slow down")
		return
	}
	var req auth.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := a.storeContext(r)
	defer cancel()
	u, token, err := a.auth.Login(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{
		"userData": u,
		"token":    token,
		"message":  "Login successful",
	})
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, envelope{"user": currentUser(r)})
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req auth.ProfileUpdate
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := a.storeContext(r)
	defer cancel()
	u, err := a.auth.UpdateProfile(ctx, currentUser(r).ID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"user": u})
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func (a *API) handleSidebar(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.storeContext(r)
	defer cancel()

	sb, err := a.unseen.Sidebar(ctx, currentUser(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{
		"users":          sb.Users,
		"unseenMessages": sb.Unseen,
	})
}

func (a *API) handleConversation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.storeContext(r)
	defer cancel()

	msgs, err := a.reconciler.Conversation(ctx, currentUser(r).ID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"messages": msgs})
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	sender := currentUser(r).ID
	allowed := a.allow(r.Context(), sender, ratelimit.RuleSend)
	a.setRemaining(r.Context(), w, sender, ratelimit.RuleSend)
	if !allowed {
		writeFail(w, http.StatusTooManyRequests, "Sending too fast, slow down")
		return
	}

	var content chat.Content
	if !decode(w, r, &content) {
		return
	}

	ctx, cancel := a.storeContext(r)
	defer cancel()
	msg, err := a.pipeline.Send(ctx, sender, r.PathValue("id"), content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, envelope{"newMessage": msg})
}

func (a *API) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.storeContext(r)
	defer cancel()

	viewer := currentUser(r).ID
	if err := a.reconciler.MarkSeen(ctx, viewer, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	logrus.WithFields(logrus.Fields{
		"component":  "api",
		"identity":   viewer,
		"message_id": r.PathValue("id"),
	}).Debug("message marked seen")
	writeOK(w, http.StatusOK, envelope{})
}
