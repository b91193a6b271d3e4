package app

// Services bundles the use cases wired against one store and publisher.
type Services struct {
	Projector *Projector
	Answers   *AnswerService
	Phases    *PhaseController
	Lobby     *LobbyService
	Catalog   *CatalogService
}

func NewServices(store Store, publisher Publisher, opts ...Option) *Services {
	return &Services{
		Projector: NewProjector(store, opts...),
		Answers:   NewAnswerService(store, publisher, opts...),
		Phases:    NewPhaseController(store, publisher, opts...),
		Lobby:     NewLobbyService(store, publisher, opts...),
		Catalog:   NewCatalogService(store, opts...),
	}
}
