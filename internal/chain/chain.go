package chain

import (
	"context"

	"cherry_chat/internal/model"
)

type (
	// AccountHandle is a live view of one remote account. Data and IsInitialized reflect the last
	// fetched or pushed snapshot.
	AccountHandle interface {
		Address() model.PublicKey
		Fetch(ctx context.Context) error
		Data() []byte
		IsInitialized() bool
		// OnUpdate registers the callback run for every pushed snapshot. Only subscribed handles
		// ever receive pushes.
		OnUpdate(cb func(AccountHandle))
	}

	Transport interface {
		GetAccount(address model.PublicKey, subscribe bool) AccountHandle
		GetLatestBlockhash(ctx context.Context) (model.Hash, error)
	}

	Submitter interface {
		SendTransaction(ctx context.Context, tx *Transaction) (string, error)
	}

	Signer interface {
		PublicKey() model.PublicKey
		SignMessage(ctx context.Context, message []byte) ([]byte, error)
		SignTransaction(ctx context.Context, tx *Transaction) error
	}
)
