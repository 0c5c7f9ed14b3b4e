package dynamo

import (
	"context"
	"errors"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/repository"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
	"github.com/google/uuid"
)

// decrementAttempts bounds the decrement/touch alternation when the counter
// keeps crossing zero underneath us.
const decrementAttempts = 3

type MeetingRepository struct {
	db    dynamodbiface.DynamoDBAPI
	table string
}

var _ repository.MeetingRepository = (*MeetingRepository)(nil)

func NewMeetingRepository(db dynamodbiface.DynamoDBAPI, table string) *MeetingRepository {
	return &MeetingRepository{db: db, table: table}
}

func (r *MeetingRepository) Create(ctx context.Context, m *domain.Meeting) error {
	doc := *m
	doc.ID = uuid.NewString()
	if doc.Version == 0 {
		doc.Version = 1
	}

	meetingAV, err := dynamodbattribute.MarshalMap(toItem(&doc))
	if err != nil {
		return err
	}
	lockAV, err := dynamodbattribute.MarshalMap(codeLockItem{
		PK:        codeLockKey(doc.Code),
		MeetingID: doc.ID,
		Active:    doc.IsActive,
	})
	if err != nil {
		return err
	}

	// the lock may be taken over only from an inactive meeting
	lockCond, err := expression.NewBuilder().WithCondition(
		expression.AttributeNotExists(expression.Name(attrPK)).
			Or(expression.Name("active").Equal(expression.Value(false))),
	).Build()
	if err != nil {
		return err
	}

	_, err = r.db.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{Put: &dynamodb.Put{
				TableName:                 aws.String(r.table),
				Item:                      lockAV,
				ConditionExpression:       lockCond.Condition(),
				ExpressionAttributeNames:  lockCond.Names(),
				ExpressionAttributeValues: lockCond.Values(),
			}},
			{Put: &dynamodb.Put{
				TableName:           aws.String(r.table),
				Item:                meetingAV,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
		},
	})
	switch {
	case isConditionalCheckFailed(err):
		return repository.ErrAlreadyExists
	case isTransactionConflict(err):
		return repository.ErrConflict
	case err != nil:
		return err
	}

	m.ID = doc.ID
	m.Version = doc.Version
	return nil
}

func (r *MeetingRepository) FindByCode(ctx context.Context, code string) (*domain.Meeting, error) {
	m, err := r.FindLatestByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		return nil, repository.ErrNotFound
	}
	return m, nil
}

func (r *MeetingRepository) FindLatestByCode(ctx context.Context, code string) (*domain.Meeting, error) {
	lock, err := r.getLock(ctx, code)
	if err != nil {
		return nil, err
	}
	return r.getMeeting(ctx, lock.MeetingID)
}

func (r *MeetingRepository) FindByHost(ctx context.Context, hostID string) ([]domain.Meeting, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(attrHostID).Equal(expression.Value(hostID))).
		WithFilter(expression.Name("isActive").Equal(expression.Value(true))).
		Build()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Meeting, 0, 8)
	var pageErr error
	err = r.db.QueryPagesWithContext(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.table),
		IndexName:                 aws.String(hostIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}, func(page *dynamodb.QueryOutput, _ bool) bool {
		var items []meetingItem
		if pageErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &items); pageErr != nil {
			return false
		}
		for _, it := range items {
			out = append(out, *it.toDomain())
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if pageErr != nil {
		return nil, pageErr
	}
	return out, nil
}

func (r *MeetingRepository) Deactivate(ctx context.Context, code string, now time.Time) (bool, error) {
	lock, err := r.getLock(ctx, code)
	if err != nil {
		return false, err
	}
	if !lock.Active {
		return false, nil
	}

	meetingExpr, err := expression.NewBuilder().
		WithCondition(expression.Name("isActive").Equal(expression.Value(true))).
		WithUpdate(touch(expression.Set(expression.Name("isActive"), expression.Value(false)), now)).
		Build()
	if err != nil {
		return false, err
	}
	lockExpr, err := expression.NewBuilder().
		WithCondition(expression.Name("meetingId").Equal(expression.Value(lock.MeetingID))).
		WithUpdate(expression.Set(expression.Name("active"), expression.Value(false))).
		Build()
	if err != nil {
		return false, err
	}

	_, err = r.db.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{Update: &dynamodb.Update{
				TableName:                 aws.String(r.table),
				Key:                       pkKey(lock.MeetingID),
				ConditionExpression:       meetingExpr.Condition(),
				UpdateExpression:          meetingExpr.Update(),
				ExpressionAttributeNames:  meetingExpr.Names(),
				ExpressionAttributeValues: meetingExpr.Values(),
			}},
			{Update: &dynamodb.Update{
				TableName:                 aws.String(r.table),
				Key:                       pkKey(codeLockKey(code)),
				ConditionExpression:       lockExpr.Condition(),
				UpdateExpression:          lockExpr.Update(),
				ExpressionAttributeNames:  lockExpr.Names(),
				ExpressionAttributeValues: lockExpr.Values(),
			}},
		},
	})
	switch {
	case isConditionalCheckFailed(err):
		// closed by a concurrent caller
		return false, nil
	case isTransactionConflict(err):
		return false, repository.ErrConflict
	case err != nil:
		return false, err
	}
	return true, nil
}

func (r *MeetingRepository) IncrementCount(ctx context.Context, code string, now time.Time) (*domain.Meeting, error) {
	lock, err := r.activeLock(ctx, code)
	if err != nil {
		return nil, err
	}

	cond := expression.Name("isActive").Equal(expression.Value(true)).
		And(expression.Name("participantCount").LessThan(expression.Name("maxParticipants")))
	upd := expression.Set(expression.Name("participantCount"), expression.Name("participantCount").Plus(expression.Value(1)))

	m, err := r.conditionalUpdate(ctx, lock.MeetingID, cond, touch(upd, now))
	if isConditionalCheckFailed(err) {
		return nil, repository.ErrNoMatch
	}
	return m, err
}

func (r *MeetingRepository) DecrementCount(ctx context.Context, code string, now time.Time) (*domain.Meeting, error) {
	lock, err := r.activeLock(ctx, code)
	if err != nil {
		return nil, err
	}

	active := expression.Name("isActive").Equal(expression.Value(true))
	count := expression.Name("participantCount")

	for i := 0; i < decrementAttempts; i++ {
		m, err := r.conditionalUpdate(ctx, lock.MeetingID,
			active.And(count.GreaterThan(expression.Value(0))),
			touch(expression.Set(count, count.Minus(expression.Value(1))), now),
		)
		if !isConditionalCheckFailed(err) {
			return m, err
		}

		// already at zero: stamp the record without moving the counter
		m, err = r.conditionalUpdate(ctx, lock.MeetingID,
			active.And(count.Equal(expression.Value(0))),
			touch(expression.UpdateBuilder{}, now),
		)
		if !isConditionalCheckFailed(err) {
			return m, err
		}

		cur, err := r.getMeeting(ctx, lock.MeetingID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNoMatch
		}
		if err != nil {
			return nil, err
		}
		if !cur.IsActive {
			return nil, repository.ErrNoMatch
		}
	}
	return nil, repository.ErrConflict
}

func (r *MeetingRepository) SetCount(ctx context.Context, id string, count int, expectedVersion int64, now time.Time) (*domain.Meeting, error) {
	cond := expression.AttributeExists(expression.Name(attrPK)).
		And(expression.Name("isActive").Equal(expression.Value(true))).
		And(expression.Name("version").Equal(expression.Value(expectedVersion)))
	upd := expression.Set(expression.Name("participantCount"), expression.Value(count))

	m, err := r.conditionalUpdate(ctx, id, cond, touch(upd, now))
	if isConditionalCheckFailed(err) {
		return nil, repository.ErrConflict
	}
	return m, err
}

func (r *MeetingRepository) conditionalUpdate(ctx context.Context, id string, cond expression.ConditionBuilder, upd expression.UpdateBuilder) (*domain.Meeting, error) {
	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(upd).Build()
	if err != nil {
		return nil, err
	}

	out, err := r.db.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       pkKey(id),
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              aws.String(dynamodb.ReturnValueAllNew),
	})
	if err != nil {
		return nil, err
	}

	var it meetingItem
	if err := dynamodbattribute.UnmarshalMap(out.Attributes, &it); err != nil {
		return nil, err
	}
	return it.toDomain(), nil
}

func (r *MeetingRepository) activeLock(ctx context.Context, code string) (*codeLockItem, error) {
	lock, err := r.getLock(ctx, code)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !lock.Active) {
		return nil, repository.ErrNoMatch
	}
	return lock, err
}

func (r *MeetingRepository) getLock(ctx context.Context, code string) (*codeLockItem, error) {
	var lock codeLockItem
	if err := r.getItem(ctx, codeLockKey(code), &lock); err != nil {
		return nil, err
	}
	return &lock, nil
}

func (r *MeetingRepository) getMeeting(ctx context.Context, id string) (*domain.Meeting, error) {
	var it meetingItem
	if err := r.getItem(ctx, id, &it); err != nil {
		return nil, err
	}
	return it.toDomain(), nil
}

func (r *MeetingRepository) getItem(ctx context.Context, pk string, out any) error {
	res, err := r.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            pkKey(pk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return err
	}
	if len(res.Item) == 0 {
		return repository.ErrNotFound
	}
	return dynamodbattribute.UnmarshalMap(res.Item, out)
}

func pkKey(pk string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		attrPK: {S: aws.String(pk)},
	}
}

// touch adds the bookkeeping every mutation carries.
func touch(upd expression.UpdateBuilder, now time.Time) expression.UpdateBuilder {
	return upd.
		Set(expression.Name("updatedAt"), expression.Value(now.UnixNano())).
		Set(expression.Name("version"), expression.Name("version").Plus(expression.Value(1)))
}
