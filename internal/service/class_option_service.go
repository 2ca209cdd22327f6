package service

import (
	"context"
	"sync"

	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

// ClassOptionService serves class options from an in-memory copy refreshed on every write.
// Capacity checks never use the cache; they read places inside the booking transaction.
type ClassOptionService struct {
	store      domain.Store
	logger     *zerolog.Logger
	options    []models.ClassOption
	optionsMap map[int64]models.ClassOption
	mu         sync.RWMutex
}

func NewClassOptionService(store domain.Store, logger *zerolog.Logger) *ClassOptionService {
	return &ClassOptionService{
		store:      store,
		logger:     logger,
		optionsMap: make(map[int64]models.ClassOption),
	}
}

func (s *ClassOptionService) List(ctx context.Context) ([]models.ClassOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ClassOption, len(s.options))
	copy(out, s.options)
	return out, nil
}

func (s *ClassOptionService) Get(ctx context.Context, id int64) (*models.ClassOption, error) {
	s.mu.RLock()
	option, ok := s.optionsMap[id]
	s.mu.RUnlock()
	if ok {
		return &option, nil
	}
	return s.store.GetClassOption(ctx, id)
}

func (s *ClassOptionService) Create(ctx context.Context, option *models.ClassOption) error {
	if err := option.Validate(); err != nil {
		return domain.Validation(err)
	}
	if err := s.store.CreateClassOption(ctx, option); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *ClassOptionService) Update(ctx context.Context, option *models.ClassOption) error {
	if err := option.Validate(); err != nil {
		return domain.Validation(err)
	}
	if err := s.store.UpdateClassOption(ctx, option); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// Delete removes an option no lesson refers to.
func (s *ClassOptionService) Delete(ctx context.Context, id int64) error {
	err := s.store.InTx(ctx, func(q domain.Queries) error {
		if _, err := q.GetClassOption(ctx, id); err != nil {
			return err
		}
		lessons, err := q.ListLessons(ctx, domain.LessonFilter{ClassOptionID: id})
		if err != nil {
			return err
		}
		if len(lessons) > 0 {
			return domain.NewError(domain.KindValidation, "class option %d is used by %d lessons", id, len(lessons))
		}
		return q.DeleteClassOption(ctx, id)
	})
	if err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *ClassOptionService) Refresh(ctx context.Context) error {
	options, err := s.store.ListClassOptions(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = options
	s.optionsMap = make(map[int64]models.ClassOption, len(options))
	for _, option := range options {
		s.optionsMap[option.ID] = option
	}
	s.logger.Debug().Int("count", len(options)).Msg("class options refreshed")
	return nil
}
