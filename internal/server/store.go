package server

import (
	"errors"
	"sort"
	"sync"

	"postdesk/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the backend's in-memory state.
type Store struct {
	mu      sync.RWMutex
	users   map[string]domain.ActorProfile
	posts   map[string]domain.Post
	seq     map[string]int
	next    int
	votes   map[string]map[string]bool
	refresh map[string]string
}

func NewStore() *Store {
	return &Store{
		users:   map[string]domain.ActorProfile{},
		posts:   map[string]domain.Post{},
		seq:     map[string]int{},
		votes:   map[string]map[string]bool{},
		refresh: map[string]string{},
	}
}

// AddUser registers or replaces a profile.
func (s *Store) AddUser(p domain.ActorProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.UserID] = p
}

// Profile returns the user's profile; unknown users are plain members
// without a team.
func (s *Store) Profile(userID string) domain.ActorProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.users[userID]; ok {
		return p
	}
	return domain.ActorProfile{UserID: userID}
}

func (s *Store) Posts() []domain.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Post, 0, len(s.posts))
	for _, p := range s.posts {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return s.seq[res[i].ID] < s.seq[res[j].ID] })
	return res
}

func (s *Store) Post(id string) (domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	if !ok {
		return domain.Post{}, ErrNotFound
	}
	return p, nil
}

// PutPost inserts or replaces p, keeping the like count of an existing post.
func (s *Store) PutPost(p domain.Post) domain.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.posts[p.ID]; ok {
		p.Likes = existing.Likes
	} else {
		s.next++
		s.seq[p.ID] = s.next
		p.Likes = 0
	}
	s.posts[p.ID] = p
	return p
}

// ToggleVote flips userID's vote on postID and reports whether it now counts.
func (s *Store) ToggleVote(postID, userID string) (bool, domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return false, domain.Post{}, ErrNotFound
	}
	voters := s.votes[postID]
	if voters == nil {
		voters = map[string]bool{}
		s.votes[postID] = voters
	}
	counted := !voters[userID]
	if counted {
		voters[userID] = true
		p.Likes++
	} else {
		delete(voters, userID)
		p.Likes--
	}
	s.posts[postID] = p
	return counted, p, nil
}

func (s *Store) SaveRefreshToken(token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[token] = userID
}

// ConsumeRefreshToken returns the owner of token and invalidates it.
func (s *Store) ConsumeRefreshToken(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.refresh[token]
	if ok {
		delete(s.refresh, token)
	}
	return userID, ok
}
