package container

import (
	"github.com/redis/go-redis/v9"

	"github.com/sonicvault/vaultd/cmd/vaultd/service"
	"github.com/sonicvault/vaultd/common/bootstrap"
	"github.com/sonicvault/vaultd/common/ratelimit"
	rediscommon "github.com/sonicvault/vaultd/common/redis"
	"github.com/sonicvault/vaultd/common/repository"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components
	Redis      *rediscommon.Client
	RedisRaw   *redis.Client

	RateLimiter *ratelimit.RateLimiter

	// Repositories
	VaultRepo    *repository.VaultRepository
	PositionRepo *repository.PositionRepository
	ClaimRepo    *repository.ClaimRepository
	ProposalRepo *repository.ProposalRepository
	VoteRepo     *repository.VoteRepository

	// Services
	VaultService      *service.VaultService
	AccrualService    *service.AccrualService
	ClaimService      *service.ClaimService
	GovernanceService *service.GovernanceService
	PolicyEvaluator   *service.PolicyEvaluator
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config

	redisRaw := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisClient := rediscommon.NewClient(redisRaw, components.Logger)

	rateLimiter := ratelimit.NewRateLimiter(redisRaw, components.Logger)

	vaultRepo := repository.NewVaultRepository(components.DB)
	positionRepo := repository.NewPositionRepository(components.DB)
	claimRepo := repository.NewClaimRepository(components.DB)
	proposalRepo := repository.NewProposalRepository(components.DB)
	voteRepo := repository.NewVoteRepository(components.DB)

	policy := service.NewPolicyEvaluator()
	vaultService := service.NewVaultService(vaultRepo, positionRepo, components.Cache, policy, components.Logger)
	accrualService := service.NewAccrualService(positionRepo, components.Logger)
	claimService := service.NewClaimService(
		claimRepo,
		positionRepo,
		vaultService,
		accrualService,
		policy,
		redisClient,
		components.Logger,
	)
	governanceService := service.NewGovernanceService(
		proposalRepo,
		voteRepo,
		vaultService,
		redisClient,
		cfg.Governance.DefaultQuorum,
		cfg.Governance.DefaultVotingPeriod,
		components.Logger,
	)

	return &Container{
		Components:        components,
		Redis:             redisClient,
		RedisRaw:          redisRaw,
		RateLimiter:       rateLimiter,
		VaultRepo:         vaultRepo,
		PositionRepo:      positionRepo,
		ClaimRepo:         claimRepo,
		ProposalRepo:      proposalRepo,
		VoteRepo:          voteRepo,
		VaultService:      vaultService,
		AccrualService:    accrualService,
		ClaimService:      claimService,
		GovernanceService: governanceService,
		PolicyEvaluator:   policy,
	}, nil
}
