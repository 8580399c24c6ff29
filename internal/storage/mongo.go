package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"care-reminders/internal/patient"
	"care-reminders/internal/reminder"
)

// MongoStorage implements the Storage interface using MongoDB
type MongoStorage struct {
	client                    *mongo.Client
	database                  *mongo.Database
	patientCollection         *mongo.Collection
	reminderCollection        *mongo.Collection
	occurrenceCollection      *mongo.Collection
	completionEventCollection *mongo.Collection
}

// NewMongoStorage creates a new MongoDB storage instance
func NewMongoStorage(ctx context.Context, connectionString, databaseName string) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Test the connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := client.Database(databaseName)

	ms := &MongoStorage{
		client:                    client,
		database:                  database,
		patientCollection:         database.Collection("patients"),
		reminderCollection:        database.Collection("reminders"),
		occurrenceCollection:      database.Collection("reminder_tracking"),
		completionEventCollection: database.Collection("notifications"),
	}

	if err := ms.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return ms, nil
}

// Close closes the MongoDB connection
func (ms *MongoStorage) Close(ctx context.Context) error {
	return ms.client.Disconnect(ctx)
}

func (ms *MongoStorage) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := ms.patientCollection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: unique,
	}); err != nil {
		return err
	}
	if _, err := ms.reminderCollection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "patient_id", Value: 1}, {Key: "id", Value: 1}},
		Options: unique,
	}); err != nil {
		return err
	}
	_, err := ms.completionEventCollection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "patient_id", Value: 1}},
	})
	return err
}

// classifyMongoErr marks network failures and timeouts as transient.
func classifyMongoErr(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// insertionOrder sorts by the generated ObjectID, which grows with insertion time.
var insertionOrder = options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

func findAll[T any](ctx context.Context, collection *mongo.Collection, filter bson.M, what string) ([]*T, error) {
	cursor, err := collection.Find(ctx, filter, insertionOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, classifyMongoErr(err))
	}
	defer cursor.Close(ctx)

	var items []*T
	for cursor.Next(ctx) {
		var item T
		if err := cursor.Decode(&item); err != nil {
			return nil, fmt.Errorf("%w: failed to decode %s: %w", ErrMalformedRecord, what, err)
		}
		items = append(items, &item)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", classifyMongoErr(err))
	}

	return items, nil
}

// Patient operations

func (ms *MongoStorage) CreatePatient(ctx context.Context, p *patient.Patient) error {
	_, err := ms.patientCollection.ReplaceOne(ctx, bson.M{"id": p.ID}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", classifyMongoErr(err))
	}
	return nil
}

func (ms *MongoStorage) GetPatient(ctx context.Context, id string) (*patient.Patient, error) {
	var p patient.Patient
	err := ms.patientCollection.FindOne(ctx, bson.M{"id": id}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get patient: %w", classifyMongoErr(err))
	}
	return &p, nil
}

func (ms *MongoStorage) ListPatients(ctx context.Context) ([]*patient.Patient, error) {
	return findAll[patient.Patient](ctx, ms.patientCollection, bson.M{}, "patients")
}

// Reminder operations

func reminderFilter(key reminder.Key) bson.M {
	return bson.M{"patient_id": key.PatientID, "id": key.ReminderID}
}

func (ms *MongoStorage) CreateReminder(ctx context.Context, r *reminder.Reminder) error {
	_, err := ms.reminderCollection.ReplaceOne(ctx, reminderFilter(r.Key()), r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", classifyMongoErr(err))
	}
	return nil
}

func (ms *MongoStorage) GetReminder(ctx context.Context, key reminder.Key) (*reminder.Reminder, error) {
	var r reminder.Reminder
	err := ms.reminderCollection.FindOne(ctx, reminderFilter(key)).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("reminder %s/%s: %w", key.PatientID, key.ReminderID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get reminder: %w", classifyMongoErr(err))
	}
	return &r, nil
}

func (ms *MongoStorage) ListReminders(ctx context.Context) ([]*reminder.Reminder, error) {
	return findAll[reminder.Reminder](ctx, ms.reminderCollection, bson.M{}, "reminders")
}

func (ms *MongoStorage) ListPatientReminders(ctx context.Context, patientID string) ([]*reminder.Reminder, error) {
	return findAll[reminder.Reminder](ctx, ms.reminderCollection, bson.M{"patient_id": patientID}, "reminders")
}

func (ms *MongoStorage) UpdateReminderSchedule(ctx context.Context, key reminder.Key, scheduled time.Time) error {
	result, err := ms.reminderCollection.UpdateOne(ctx, reminderFilter(key),
		bson.M{"$set": bson.M{"scheduled_time": scheduled}})
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", classifyMongoErr(err))
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("reminder %s/%s: %w", key.PatientID, key.ReminderID, ErrNotFound)
	}
	return nil
}

// Occurrence operations

func (ms *MongoStorage) CreateOccurrence(ctx context.Context, o *reminder.Occurrence) error {
	ensureOccurrenceID(o)
	if _, err := ms.occurrenceCollection.InsertOne(ctx, o); err != nil {
		return fmt.Errorf("failed to create occurrence: %w", classifyMongoErr(err))
	}
	return nil
}

func (ms *MongoStorage) ListOccurrences(ctx context.Context) ([]*reminder.Occurrence, error) {
	return findAll[reminder.Occurrence](ctx, ms.occurrenceCollection, bson.M{}, "occurrences")
}

// CompletionEvent operations

func (ms *MongoStorage) CreateCompletionEvent(ctx context.Context, e *reminder.CompletionEvent) error {
	ensureCompletionEventID(e)
	if _, err := ms.completionEventCollection.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("failed to create completion event: %w", classifyMongoErr(err))
	}
	return nil
}

func (ms *MongoStorage) ListCompletionEvents(ctx context.Context) ([]*reminder.CompletionEvent, error) {
	return findAll[reminder.CompletionEvent](ctx, ms.completionEventCollection, bson.M{}, "completion events")
}

func (ms *MongoStorage) ListPatientCompletionEvents(ctx context.Context, patientID string) ([]*reminder.CompletionEvent, error) {
	return findAll[reminder.CompletionEvent](ctx, ms.completionEventCollection, bson.M{"patient_id": patientID}, "completion events")
}
