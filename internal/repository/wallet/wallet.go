package wallet

import (
	"context"
	"errors"

	"cherry_chat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type (
	WalletRepo struct {
		collection *mongo.Collection
	}
)

func NewWalletRepo(db *mongo.Database) *WalletRepo {
	return &WalletRepo{
		collection: db.Collection("wallets"),
	}
}

func (r *WalletRepo) GetByName(ctx context.Context, name string) (*model.Wallet, error) {
	filter := bson.M{
		"name": name,
	}

	var wallet model.Wallet
	err := r.collection.FindOne(ctx, filter).Decode(&wallet)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &wallet, nil
}

func (r *WalletRepo) Create(ctx context.Context, wallet *model.Wallet) (primitive.ObjectID, error) {
	res, err := r.collection.InsertOne(ctx, wallet)
	if err != nil {
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	wallet.ID = id
	return id, nil
}
