package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	monsoon "github.com/reoring/monsoon"
	"github.com/reoring/monsoon/i18n"
	"github.com/reoring/monsoon/middleware"
)

// memberSchema describes a library member. Validation, defaults and the
// generated id all come from the schema; the store below only keeps rows.
var memberSchema = monsoon.NewSchema("Member").
	Field("name", monsoon.String().MinLen(1)).
	Field("email", monsoon.Email()).
	Field("age", monsoon.Int().Gte(0), monsoon.WithDefault(int64(18))).
	Field("active", monsoon.Bool(), monsoon.WithDefault(true)).
	MustBuild()

// MemberStore is a simple in-memory store keyed by the document id.
type MemberStore struct {
	mu      sync.RWMutex
	members map[string]*monsoon.Document
}

func NewMemberStore() *MemberStore {
	return &MemberStore{members: make(map[string]*monsoon.Document)}
}

func memberID(doc *monsoon.Document) string {
	id, _ := doc.DumpJSON()["id"].(string)
	return id
}

func (s *MemberStore) Put(doc *monsoon.Document) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := memberID(doc)
	s.members[id] = doc
	return id
}

func (s *MemberStore) GetAll() []*monsoon.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]*monsoon.Document, 0, len(s.members))
	for _, doc := range s.members {
		members = append(members, doc)
	}
	return members
}

func (s *MemberStore) GetByID(id string) (*monsoon.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.members[id]
	return doc, exists
}

func (s *MemberStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members[id]; !exists {
		return false
	}
	delete(s.members, id)
	return true
}

// Server holds our application state
type Server struct {
	store *MemberStore
}

func NewServer() *Server {
	return &Server{store: NewMemberStore()}
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetMembers(w, r)
	case http.MethodPost:
		// The middleware validates the body and parks the document in the
		// request context.
		middleware.ValidateJSON(memberSchema, http.HandlerFunc(s.handleCreateMember)).ServeHTTP(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMemberByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/members/")

	switch r.Method {
	case http.MethodGet:
		s.handleGetMember(w, r, id)
	case http.MethodPatch:
		s.handlePatchMember(w, r, id)
	case http.MethodDelete:
		s.handleDeleteMember(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetMembers(w http.ResponseWriter, _ *http.Request) {
	members := s.store.GetAll()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"members": members,
		"count":   len(members),
	})
}

func (s *Server) handleGetMember(w http.ResponseWriter, _ *http.Request, id string) {
	doc, exists := s.store.GetByID(id)
	if !exists {
		http.Error(w, "Member not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	doc, _ := middleware.DocumentFromContext(r.Context())
	id := s.store.Put(doc)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     id,
		"member": doc,
	})
}

func (s *Server) handlePatchMember(w http.ResponseWriter, r *http.Request, id string) {
	existing, exists := s.store.GetByID(id)
	if !exists {
		http.Error(w, "Member not found", http.StatusNotFound)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	// Validate the partial body through the schema, then copy only the
	// fields the request actually carried.
	patch, err := memberSchema.Parse(body, monsoon.ParseOptions{Lenient: true})
	if err != nil {
		middleware.WriteError(w, i18n.LocalizeError(err))
		return
	}

	var updated []string
	for _, f := range memberSchema.Fields() {
		if f.IsID() {
			continue
		}
		if _, present := body[f.Name()]; !present {
			continue
		}
		v, err := patch.Get(f.Name())
		if err != nil || monsoon.IsEmpty(v) {
			continue
		}
		if err := existing.Set(f.Name(), v); err != nil {
			middleware.WriteError(w, i18n.LocalizeError(err))
			return
		}
		updated = append(updated, f.Name())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"member":         existing,
		"updated_fields": updated,
	})
}

func (s *Server) handleDeleteMember(w http.ResponseWriter, _ *http.Request, id string) {
	if !s.store.Delete(id) {
		http.Error(w, "Member not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	schema, err := memberSchema.JSONSchema()
	if err != nil {
		http.Error(w, "Failed to generate schema: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(schema)
}

func seed(store *MemberStore, data map[string]any) {
	doc, err := memberSchema.New(data)
	if err != nil {
		log.Fatal("seed member:", err)
	}
	store.Put(doc)
}

func main() {
	// LANG=ja_JP.UTF-8 switches validation messages to Japanese.
	if lang := os.Getenv("LANG"); strings.HasPrefix(lang, "ja") {
		i18n.SetLanguage("ja")
	}

	server := NewServer()

	// Add some initial data
	seed(server.store, map[string]any{"name": "Taro", "email": "taro@example.com", "age": 30})
	seed(server.store, map[string]any{"name": "Hanako", "email": "hanako@example.com", "age": 25})

	// Setup routes
	http.HandleFunc("/members", server.handleMembers)
	http.HandleFunc("/members/", server.handleMemberByID)
	http.HandleFunc("/schema", server.handleSchema)

	// Health check
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Root handler with usage instructions
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "monsoon Library API Sample",
			"endpoints": map[string]string{
				"GET /members":         "Get all members",
				"POST /members":        "Create a new member",
				"GET /members/{id}":    "Get member by ID",
				"PATCH /members/{id}":  "Partially update member",
				"DELETE /members/{id}": "Delete member",
				"GET /schema":          "Get JSON Schema for Member",
				"GET /health":          "Health check",
			},
			"examples": map[string]interface{}{
				"create_member": map[string]interface{}{
					"method": "POST",
					"url":    "/members",
					"body": map[string]interface{}{
						"name":  "Taro",
						"email": "taro@example.com",
						"age":   30,
					},
				},
				"partial_update": map[string]interface{}{
					"method": "PATCH",
					"url":    "/members/{id}",
					"body": map[string]interface{}{
						"name": "Jiro",
					},
					"note": "Only updates the 'name' field, other fields remain unchanged",
				},
			},
		})
	})

	log.Println("🚀 monsoon Library API server starting on :8080")
	log.Println("📖 Visit http://localhost:8080 for usage instructions")
	log.Println("🔍 Visit http://localhost:8080/schema to see the JSON Schema")

	if err := http.ListenAndServe(":8080", nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
