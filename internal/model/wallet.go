package model

import "go.mongodb.org/mongo-driver/bson/primitive"

type (
	// Wallet is a locally stored signing keypair, the terminal client's stand-in for a browser wallet.
	Wallet struct {
		ID         primitive.ObjectID `bson:"_id,omitempty"`
		Name       string             `bson:"name"`
		PublicKey  string             `bson:"public_key"`
		PrivateKey []byte             `bson:"private_key"`
	}
)
