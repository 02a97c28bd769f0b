package httpapi

import (
	"net/http"

	"storefront/pkg/auth"
)

type registerPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	ShopName string `json:"shop_name"`
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profilePayload struct {
	Name     string `json:"name"`
	ShopName string `json:"shop_name"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var payload registerPayload
	if !s.decode(w, r, &payload) {
		return
	}
	user, err := s.svc.Auth.Register(r.Context(), auth.Registration{
		Name:     payload.Name,
		Email:    payload.Email,
		Password: payload.Password,
		ShopName: payload.ShopName,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, user)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var payload loginPayload
	if !s.decode(w, r, &payload) {
		return
	}
	session, err := s.svc.Auth.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, session)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Auth.Logout(r.Context(), bearerToken(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.Auth.Profile(r.Context(), userID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, user)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var payload profilePayload
	if !s.decode(w, r, &payload) {
		return
	}
	user, err := s.svc.Auth.UpdateProfile(r.Context(), userID(r.Context()), payload.Name, payload.ShopName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, user)
}
