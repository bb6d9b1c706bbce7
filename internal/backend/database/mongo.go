package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	defaultMongoDatabase   = "website"
	defaultMongoCollection = "images"
	mongoConnectTimeout    = 10 * time.Second
	// 16 MiB BSON document limit, less room for field names and metadata.
	mongoMaxPayloadBytes = 16<<20 - 64<<10
)

// mongoImage is the document layout of the images collection.
type mongoImage struct {
	ID          bson.ObjectID     `bson:"_id,omitempty"`
	Data        []byte            `bson:"data"`
	ContentType string            `bson:"contentType"`
	Filename    string            `bson:"filename"`
	Width       int               `bson:"width"`
	Height      int               `bson:"height"`
	Size        int64             `bson:"size"`
	Thumbnails  map[string][]byte `bson:"thumbnails"`
	Formats     map[string][]byte `bson:"formats"`
	CreatedAt   time.Time         `bson:"createdAt"`
}

// MongoDatabase keeps one client per process; the driver owns connection pooling.
type MongoDatabase struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoDatabase(ctx context.Context, connectionString, databaseName, collectionName string) (DatabaseService, error) {
	if connectionString == "" {
		return nil, errors.New("mongodb connection string is empty")
	}
	if databaseName == "" {
		databaseName = defaultMongoDatabase
	}
	if collectionName == "" {
		collectionName = defaultMongoCollection
	}

	client, err := mongo.Connect(options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	return &MongoDatabase{
		client:     client,
		collection: client.Database(databaseName).Collection(collectionName),
	}, nil
}

func (m *MongoDatabase) CreateDatabase(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to reach mongodb: %w", err)
	}
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	})
	return err
}

func (m *MongoDatabase) DoesDatabaseExist(ctx context.Context) bool {
	return m.client.Ping(ctx, readpref.Primary()) == nil
}

func (m *MongoDatabase) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoDatabase) CreateImage(ctx context.Context, image *StoredImage) (string, error) {
	if size := image.PayloadBytes(); size > mongoMaxPayloadBytes {
		return "", fmt.Errorf("%w: %d payload bytes exceed the %d byte document budget", ErrImageTooLarge, size, mongoMaxPayloadBytes)
	}
	doc := toMongoImage(image)
	doc.ID = bson.NewObjectID()
	doc.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to insert image: %w", err)
	}

	image.ID = doc.ID.Hex()
	image.CreatedAt = doc.CreatedAt
	return image.ID, nil
}

func (m *MongoDatabase) GetImageByID(ctx context.Context, id string) (*StoredImage, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrImageNotFound
	}

	var doc mongoImage
	err = m.collection.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromMongoImage(&doc), nil
}

func toMongoImage(image *StoredImage) *mongoImage {
	return &mongoImage{
		Data:        image.Data,
		ContentType: image.ContentType,
		Filename:    image.Filename,
		Width:       image.Width,
		Height:      image.Height,
		Size:        image.Size,
		Thumbnails:  image.Thumbnails,
		Formats:     image.Formats,
	}
}

func fromMongoImage(doc *mongoImage) *StoredImage {
	thumbnails := doc.Thumbnails
	if thumbnails == nil {
		thumbnails = map[string][]byte{}
	}
	formats := doc.Formats
	if formats == nil {
		formats = map[string][]byte{}
	}
	return &StoredImage{
		ID:          doc.ID.Hex(),
		Data:        doc.Data,
		ContentType: doc.ContentType,
		Filename:    doc.Filename,
		Width:       doc.Width,
		Height:      doc.Height,
		Size:        doc.Size,
		Thumbnails:  thumbnails,
		Formats:     formats,
		CreatedAt:   doc.CreatedAt.UTC(),
	}
}
